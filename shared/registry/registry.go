// Package registry is the in-process directory that lets one module query
// another synchronously without a network call or a code dependency on the
// other module's internals. It is deliberately not an RPC layer: handlers run
// on the caller's goroutine and requests never leave the process.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"cutfab-backend/shared/metricsx"
)

// Request is the (method, path, payload) triple a module handler accepts.
type Request struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler serves a module's internal route surface.
type Handler interface {
	Handle(ctx context.Context, req Request) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Result

func (f HandlerFunc) Handle(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Registry maps module names to handlers. Registering a name twice replaces
// the previous handler; the last installer wins. Writes happen during boot,
// reads at request time, so the map is guarded for the short overlap during
// startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(moduleName string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[moduleName] = handler
}

func (r *Registry) Resolve(moduleName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[moduleName]
	return h, ok
}

func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Call resolves the module and dispatches the request. A missing module is a
// failed Result, not an error: callers treat it exactly like any other
// cross-module failure.
func (r *Registry) Call(ctx context.Context, moduleName string, req Request) Result {
	handler, ok := r.Resolve(moduleName)
	if !ok {
		metricsx.IncRegistryCall(moduleName, false)
		return Fail(CodeModuleNotFound, "no handler registered for module "+moduleName)
	}
	res := handler.Handle(ctx, req)
	metricsx.IncRegistryCall(moduleName, res.Success)
	return res
}

// Get is shorthand for a GET Call with no body.
func (r *Registry) Get(ctx context.Context, moduleName string, path string) Result {
	return r.Call(ctx, moduleName, Request{Method: "GET", Path: path})
}
