package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cutfab-backend/shared/dbx"
	"cutfab-backend/shared/httpx"
)

// DBRequiredMiddleware fails requests fast when the database is unreachable
// instead of letting every repo call time out. Connectivity is probed at most
// once per recheck interval; in between, the cached verdict answers.
type DBRequiredMiddleware struct {
	Pool    *pgxpool.Pool
	Recheck time.Duration
	Skip    func(*http.Request) bool
}

func (m DBRequiredMiddleware) Wrap(next http.Handler) http.Handler {
	recheck := m.Recheck
	if recheck <= 0 {
		recheck = 15 * time.Second
	}
	var (
		mu        sync.Mutex
		healthy   bool
		lastProbe time.Time
	)
	probe := func(ctx context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(lastProbe) < recheck {
			return healthy
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		healthy = dbx.Ping(pingCtx, m.Pool) == nil
		lastProbe = time.Now()
		return healthy
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Pool == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "database not configured", nil)
			return
		}
		if !probe(r.Context()) {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "database unavailable", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
