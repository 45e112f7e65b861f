package middleware

import (
	"errors"
	"net/http"
	"strings"

	"cutfab-backend/shared/authx"
	"cutfab-backend/shared/httpx"
)

// AuthMiddleware is the shared auth gate handed to every module installer.
type AuthMiddleware struct {
	Verifier *authx.JWTVerifier
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "auth verifier not configured", nil)
			return
		}

		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(authHeader[len("bearer "):])
		auth, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			// A kid the JWKS cache does not know usually means key rotation
			// outpaced the cache TTL; tell the client to retry rather than
			// re-authenticate.
			if errors.Is(err, authx.ErrUnknownKID) {
				httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "signing key not recognized, retry shortly", nil)
				return
			}
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(authx.WithAuth(r.Context(), auth)))
	})
}
