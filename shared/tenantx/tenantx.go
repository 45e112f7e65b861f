package tenantx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// TenantContext scopes a request to one customer organization. The core
// services ignore it; repositories and the audit trail carry it through.
type TenantContext struct {
	ID   string
	Slug string
}

func WithTenant(ctx context.Context, tenant TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tenant)
}

func FromContext(ctx context.Context) (TenantContext, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if t, ok := v.(TenantContext); ok {
			return t, true
		}
	}
	return TenantContext{}, false
}

func TenantIDFromContext(ctx context.Context) string {
	if t, ok := FromContext(ctx); ok {
		return t.ID
	}
	return ""
}

// UUIDFromContext parses the tenant ID for callers that persist it. An
// unresolved or malformed tenant yields uuid.Nil; rows written outside a
// tenant scope (event replays, background jobs) carry the nil tenant.
func UUIDFromContext(ctx context.Context) uuid.UUID {
	raw := TenantIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
