package order

import (
	"context"

	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/installer"
	"cutfab-backend/shared/registry"
)

type Installer struct{}

func (Installer) Name() string { return ModuleName }

func (Installer) Install(ctx context.Context, ic *installer.Context) (installer.Mount, error) {
	svc := NewService(
		repos.NewOrdersRepo(ic.Pool),
		ic.Bus,
		ic.Cache,
		ic.Logger,
	)

	router := svc.Router()
	ic.Registry.Register(ModuleName, router)
	svc.SubscribeEvents(ic.Bus)

	return installer.Mount{
		Path:    "/api/v1/orders",
		Router:  registry.NewHTTPBridge("/api/v1", router),
		Service: svc,
	}, nil
}
