package registry

import (
	"context"
	"strings"
)

// Router is the typed route table a module builds once at registration time.
// Patterns are split into segments up front, so matching a request is a plain
// segment walk with no per-call pattern parsing. A ":name" segment binds a
// path parameter.
type Router struct {
	routes []route
}

type route struct {
	method   string
	segments []string
	handler  RouteHandler
}

// RouteHandler serves one matched route. Params holds the ":name" bindings.
type RouteHandler func(ctx context.Context, req Request, params map[string]string) Result

func NewRouter() *Router {
	return &Router{}
}

func (rt *Router) Get(pattern string, handler RouteHandler) *Router {
	return rt.add("GET", pattern, handler)
}

func (rt *Router) Post(pattern string, handler RouteHandler) *Router {
	return rt.add("POST", pattern, handler)
}

func (rt *Router) Put(pattern string, handler RouteHandler) *Router {
	return rt.add("PUT", pattern, handler)
}

func (rt *Router) Patch(pattern string, handler RouteHandler) *Router {
	return rt.add("PATCH", pattern, handler)
}

func (rt *Router) Delete(pattern string, handler RouteHandler) *Router {
	return rt.add("DELETE", pattern, handler)
}

func (rt *Router) add(method string, pattern string, handler RouteHandler) *Router {
	rt.routes = append(rt.routes, route{
		method:   method,
		segments: splitPath(pattern),
		handler:  handler,
	})
	return rt
}

// Handle makes the Router a registry Handler. An unmatched (method, path)
// pair fails with ROUTE_NOT_FOUND.
func (rt *Router) Handle(ctx context.Context, req Request) Result {
	segments := splitPath(req.Path)
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	for _, candidate := range rt.routes {
		if candidate.method != method {
			continue
		}
		params, ok := matchSegments(candidate.segments, segments)
		if !ok {
			continue
		}
		return candidate.handler(ctx, req, params)
	}
	return Fail(CodeRouteNotFound, "no route for "+method+" "+req.Path)
}

func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchSegments(pattern []string, actual []string) (map[string]string, bool) {
	if len(pattern) != len(actual) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if actual[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[seg[1:]] = actual[i]
			continue
		}
		if seg != actual[i] {
			return nil, false
		}
	}
	return params, true
}
