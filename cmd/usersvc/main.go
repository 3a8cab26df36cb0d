package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"usersvc/internal/api"
	"usersvc/internal/audit"
	"usersvc/internal/config"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", "", "listen address (host:port); overrides config")
	migrate := flag.String("migrate", "", "run migrations: 'up' to apply, 'status' to show status")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := observability.NewLogger(observability.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(logger.Slog())

	sentryEnabled := false
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          cfg.AppVersion,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized", "environment", cfg.Sentry.Environment, "release", cfg.AppVersion)
			sentryEnabled = true
		}
	}

	if *migrate != "" {
		os.Exit(runMigrationsCLI(cfg, logger, *migrate))
	}

	store := selectStore(cfg, logger)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(observability.DefaultNamespace, cfg.AppVersion)
		logger.Info("metrics enabled", "namespace", observability.DefaultNamespace, "version", cfg.AppVersion)
	} else {
		logger.Info("metrics disabled")
	}

	handler, err := newHandler(cfg, store, logger, metrics, audit.NewMemoryLogger(cfg.Audit.Capacity))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		_ = store.Close()
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("usersvc listening", "addr", cfg.Addr, "version", cfg.AppVersion)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	} else {
		logger.Info("database connection closed")
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}
	logger.Info("shutdown complete")
}

// newHandler registers every route on a fresh mux and wraps it in the
// middleware chain. Order: metrics (outermost), request ID, logging, rate limit.
func newHandler(cfg config.Config, store storage.Store, logger observability.Logger, metrics *observability.Metrics, auditLogger audit.Logger) (http.Handler, error) {
	logger = logger.WithComponent("api")
	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	if len(proxies.CIDRs) > 0 {
		logger.Info("trusted proxies configured", "count", len(proxies.CIDRs))
	}

	rateCfg := api.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Proxies:           proxies,
	}
	if rateCfg.Enabled() {
		logger.Info("rate limiting configured", "requests_per_second", rateCfg.RequestsPerSecond, "burst", rateCfg.Burst)
	} else {
		logger.Info("rate limiting disabled")
	}

	translator := cfg.Translator()
	logger.Info("constraint rules loaded", "count", len(translator.Rules()))

	mux := http.NewServeMux()
	srv := api.NewServer(mux, store, logger, metrics, auditLogger)
	srv.SetTrustedProxies(proxies)
	srv.RegisterRoutes()
	api.NewUserServer(srv, store, translator).RegisterUserRoutes()

	return api.ApplyMiddlewares(
		mux,
		metrics.Middleware,
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger),
		api.RateLimitMiddleware(rateCfg, logger, metrics),
	), nil
}

// runMigrationsCLI executes a migration command and returns the exit code.
func runMigrationsCLI(cfg config.Config, logger observability.Logger, cmd string) int {
	switch cmd {
	case "up":
		// Opening the store applies pending migrations.
		st := selectStore(cfg, logger)
		_ = st.Close()
		return runMigrationsCLI(cfg, logger, "status")
	case "status":
		status, err := migrationStatus(cfg)
		if err != nil {
			logger.Error("migrations status failed", "error", err)
			return 1
		}
		logger.Info("migrations status", "status", status)
		return 0
	default:
		logger.Warn("unknown migrate command", "command", cmd)
		return 2
	}
}
