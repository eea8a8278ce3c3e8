package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/bootstrap"
	"github.com/animus-labs/autopilot/internal/platform/auditlog"
	"github.com/animus-labs/autopilot/internal/platform/auth"
	"github.com/animus-labs/autopilot/internal/platform/env"
	"github.com/animus-labs/autopilot/internal/platform/httpserver"
	"github.com/animus-labs/autopilot/internal/platform/telemetry"
)

const serviceName = "autopilot"

var publicPrefixes = []string{"/healthz", "/readyz"}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("AUTOPILOT_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("AUTOPILOT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}
	if authCfg.Mode == auth.ModeDisabled {
		logger.Warn("authentication disabled; every request acts as a global admin")
	}

	telemetryCfg, err := telemetry.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid telemetry config", "error", err)
		os.Exit(2)
	}
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetryCfg)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer flushTelemetry(logger, shutdownTelemetry)

	rt, err := bootstrap.Build(ctx, logger, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	handler := newHandler(logger, rt.Service, authenticator, denyAuditor(rt.DB), rt.ReadinessChecks())

	srvCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newHandler(logger *slog.Logger, svc *autopilot.Service, authenticator auth.Authenticator, audit auth.AuditFunc, checks []httpserver.ReadinessCheck) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))

	protect := func(role string, h http.HandlerFunc) http.Handler {
		return auth.Middleware{
			Logger:         logger,
			Authenticator:  authenticator,
			Authorize:      auth.RequireRole(role),
			CompanyResolve: auth.RequireCompanyResolver(publicPrefixes),
			Audit:          audit,
		}.Wrap(h)
	}
	api := &autopilotAPI{logger: logger, svc: svc}
	api.register(mux, protect)
	return mux
}

// denyAuditor persists auth denials when a database is configured.
func denyAuditor(db *sql.DB) auth.AuditFunc {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
	}
}

func flushTelemetry(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry flush failed", "error", err)
	}
}
