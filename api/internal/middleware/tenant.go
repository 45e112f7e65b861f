package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/authx"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/tenantx"
)

type TenantMiddleware struct {
	Tenants *repos.TenantsRepo
	Skip    func(*http.Request) bool
}

func (m TenantMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
		tenantSlug := strings.TrimSpace(r.Header.Get("X-Tenant-Slug"))
		if tenantID == "" && tenantSlug == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant header", nil)
			return
		}

		var tenant tenantx.TenantContext
		if tenantSlug != "" {
			if m.Tenants == nil {
				httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "tenant repository not configured", nil)
				return
			}
			record, err := m.Tenants.GetTenantBySlug(r.Context(), tenantSlug)
			if err != nil {
				if errors.Is(err, repos.ErrNotFound) {
					httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "tenant not found", nil)
					return
				}
				httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve tenant", nil)
				return
			}
			if tenantID != "" && tenantID != record.TenantID.String() {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "tenant mismatch", nil)
				return
			}
			tenantID = record.TenantID.String()
			tenant.Slug = record.Slug
		}

		if auth, ok := authx.FromContext(r.Context()); ok {
			if err := validateTenantClaim(auth.Claims, tenantID); err != nil {
				httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
				return
			}
		}

		tenant.ID = tenantID
		if tenant.Slug == "" {
			tenant.Slug = tenantSlug
		}

		next.ServeHTTP(w, r.WithContext(tenantx.WithTenant(r.Context(), tenant)))
	})
}

func validateTenantClaim(claims map[string]any, tenantID string) error {
	if claims == nil || tenantID == "" {
		return nil
	}
	if v, ok := claims["tenant_id"]; ok {
		claimTenantID := strings.TrimSpace(fmt.Sprint(v))
		if claimTenantID != "" && claimTenantID != tenantID {
			return errors.New("tenant claim mismatch")
		}
	}
	return nil
}
