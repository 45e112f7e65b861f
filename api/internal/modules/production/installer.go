package production

import (
	"context"
	"log/slog"

	"cutfab-backend/shared/influxx"
	"cutfab-backend/shared/installer"
	"cutfab-backend/shared/registry"
)

type Installer struct{}

func (Installer) Name() string { return ModuleName }

func (Installer) Install(ctx context.Context, ic *installer.Context) (installer.Mount, error) {
	var influx *influxx.Client
	if ic.Config.InfluxURL != "" {
		var err error
		influx, err = influxx.New(ic.Config)
		if err != nil {
			// Telemetry is optional; the module still runs without it.
			ic.Logger.Warn(ctx, "influx_disabled", "production telemetry disabled",
				slog.String("error", err.Error()))
		}
	}

	svc := NewService(ic.Registry, ic.Bus, influx, ic.Logger)
	router := svc.Router()
	ic.Registry.Register(ModuleName, router)

	return installer.Mount{
		Path:    "/api/v1/production",
		Router:  registry.NewHTTPBridge("/api/v1", router),
		Service: svc,
	}, nil
}
