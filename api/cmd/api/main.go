package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cutfab-backend/api/internal/middleware"
	"cutfab-backend/api/internal/modules/cuttingjob"
	"cutfab-backend/api/internal/modules/order"
	"cutfab-backend/api/internal/modules/production"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/authx"
	"cutfab-backend/shared/cachex"
	"cutfab-backend/shared/config"
	"cutfab-backend/shared/dbx"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/httpx"
	"cutfab-backend/shared/installer"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
	"cutfab-backend/shared/mqx"
	"cutfab-backend/shared/observability"
	"cutfab-backend/shared/registry"
	"cutfab-backend/shared/tenantx"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	if err != nil {
		logger.Warn(context.Background(), "otel_init_failed", "tracing disabled",
			slog.String("error", err.Error()))
		shutdownTracer = func(context.Context) error { return nil }
	}

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "cache_init_failed", "running without cache",
				slog.String("error", err.Error()))
			cache = nil
		}
	}

	bus, busCleanup, err := buildBus(cfg, logger, dbPool)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "EVENT_BUS_ADAPTER", Message: err.Error()})
		bus = eventbus.NewInProc(logger, retryPolicy(cfg))
	}

	tenantsRepo := repos.NewTenantsRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		}
	}

	metricsx.Register()

	serviceRegistry := registry.New()
	installers := installer.NewRegistry()
	installers.Add(order.Installer{})
	installers.Add(cuttingjob.Installer{})
	installers.Add(production.Installer{})

	mounts, err := installers.InstallAll(context.Background(), &installer.Context{
		Config:   cfg,
		Logger:   logger,
		Pool:     dbPool,
		Cache:    cache,
		Registry: serviceRegistry,
		Bus:      bus,
	})
	if err != nil {
		logger.Error(context.Background(), "install_failed", "module installation failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "modules_installed", "modules registered",
		slog.Any("modules", serviceRegistry.Modules()),
		slog.String("bus_adapter", cfg.EventBusAdapter),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"subject": auth.Subject,
			"email":   auth.Email,
			"name":    auth.Name,
			"roles":   auth.Roles,
			"claims":  auth.Claims,
		})
	})
	mux.HandleFunc("GET /api/v1/tenants/current", func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := tenantx.FromContext(r.Context())
		if !ok || tenant.ID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing tenant", nil)
			return
		}
		tenantID, err := uuid.Parse(tenant.ID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid tenant id", nil)
			return
		}
		record, err := tenantsRepo.GetTenantByID(r.Context(), tenantID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "tenant not found", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"tenant_id": record.TenantID,
			"slug":      record.Slug,
			"name":      record.Name,
		})
	})

	for _, mount := range mounts {
		mux.Handle(mount.Path, mount.Router)
		mux.Handle(mount.Path+"/", mount.Router)
	}

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{Pool: dbPool, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled,
		Repo:    auditRepo,
		Logger:  logger,
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.TenantMiddleware{Tenants: tenantsRepo, Skip: skipInfra}.Wrap(handler)
	handler = middleware.AuthMiddleware{Verifier: verifier, Skip: skipInfra}.Wrap(handler)
	if cfg.RateLimitRPS > 0 {
		handler = middleware.RateLimitMiddleware{
			Limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
			Skip:    skipInfra,
		}.Wrap(handler)
	}
	handler = middleware.CORSMiddleware{Skip: skipInfra}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	if cfg.OtelEnabled {
		handler = otelhttp.NewHandler(handler, "http")
	}

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.String("bus_adapter", cfg.EventBusAdapter),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	busCleanup()
	if cache != nil {
		_ = cache.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	_ = shutdownTracer(shutdownCtx)
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// buildBus picks the event transport for this process. The API serves
// synchronous semantics with the in-process adapter; with the kafka or
// outbox adapter it only produces, and the consumer binary dispatches to
// subscribers.
func buildBus(cfg config.Config, logger logx.Logger, pool *pgxpool.Pool) (eventbus.Bus, func(), error) {
	switch cfg.EventBusAdapter {
	case config.BusAdapterKafka:
		producer, err := mqx.NewProducer(cfg)
		if err != nil {
			return nil, func() {}, err
		}
		bus := eventbus.NewKafka(producer, logger, retryPolicy(cfg))
		return bus, func() { _ = producer.Close() }, nil
	case config.BusAdapterOutbox:
		if pool == nil {
			return nil, func() {}, errors.New("outbox adapter requires a database")
		}
		bus := eventbus.NewOutbox(repos.NewOutboxRepo(pool), logger, retryPolicy(cfg))
		return bus, func() {}, nil
	default:
		return eventbus.NewInProc(logger, retryPolicy(cfg)), func() {}, nil
	}
}

func retryPolicy(cfg config.Config) eventbus.RetryPolicy {
	return eventbus.RetryPolicy{
		MaxAttempts: cfg.EventRetryMax,
		BaseDelay:   time.Duration(cfg.EventRetryBaseMS) * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}
