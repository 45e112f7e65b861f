package cuttingjob

import (
	"context"
	"fmt"
	"net/http"

	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/clients/optimizer"
	"cutfab-backend/shared/installer"
	"cutfab-backend/shared/registry"
)

type Installer struct{}

func (Installer) Name() string { return ModuleName }

func (Installer) Install(ctx context.Context, ic *installer.Context) (installer.Mount, error) {
	var opt *optimizer.Client
	if ic.Config.OptimizerEnabled {
		var err error
		opt, err = optimizer.New(ic.Config)
		if err != nil {
			return installer.Mount{}, fmt.Errorf("optimizer client: %w", err)
		}
	}

	svc := NewService(
		repos.NewCuttingJobsRepo(ic.Pool),
		repos.NewOrdersRepo(ic.Pool),
		ic.Bus,
		opt,
		ic.Logger,
	)

	router := svc.Router()
	ic.Registry.Register(ModuleName, router)
	svc.SubscribeEvents(ic.Bus)

	return installer.Mount{
		Path:    "/api/v1/cutting-jobs",
		Router:  bridge(router),
		Service: svc,
	}, nil
}

func bridge(router *registry.Router) http.Handler {
	return registry.NewHTTPBridge("/api/v1", router)
}
