// Package installer wires modules together at boot. Each module contributes
// an Installer that builds its repository, registers its service handler with
// the Service Registry, subscribes its event handlers on the Bus and returns
// a mount descriptor for the HTTP layer. Installers see only the shared
// dependencies in Context, never another module's internals.
package installer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/shared/cachex"
	"cutfab-backend/shared/config"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/registry"
)

// Middleware is the shared request-level wrapping (auth gate, tenant scope)
// handed to every module.
type Middleware func(http.Handler) http.Handler

// Context is everything an installer may depend on.
type Context struct {
	Config     config.Config
	Logger     logx.Logger
	Pool       *pgxpool.Pool
	Cache      *cachex.Client
	Registry   *registry.Registry
	Bus        eventbus.Bus
	Middleware []Middleware
}

// Mount is what the HTTP layer consumes for one module.
type Mount struct {
	Path       string
	Router     http.Handler
	Middleware []Middleware
	Service    any
}

type Installer interface {
	Name() string
	Install(ctx context.Context, ic *Context) (Mount, error)
}

// Registry accumulates installers and runs them once, in registration order.
// Ordering only matters to an installer that synchronously calls an
// already-registered service handler during Install; modules here subscribe
// event handlers instead, which are order independent.
type Registry struct {
	installers []Installer
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(inst Installer) {
	r.installers = append(r.installers, inst)
}

func (r *Registry) InstallAll(ctx context.Context, ic *Context) ([]Mount, error) {
	mounts := make([]Mount, 0, len(r.installers))
	for _, inst := range r.installers {
		mount, err := inst.Install(ctx, ic)
		if err != nil {
			return nil, fmt.Errorf("install %s: %w", inst.Name(), err)
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.installers))
	for _, inst := range r.installers {
		names = append(names, inst.Name())
	}
	return names
}
