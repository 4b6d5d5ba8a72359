// Package main is the entry point for the enrollflow admissions workflow
// server. It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/authz"
	"github.com/enrollflow/enrollflow/internal/config"
	"github.com/enrollflow/enrollflow/internal/engine"
	"github.com/enrollflow/enrollflow/internal/ledger"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/internal/registry"
	"github.com/enrollflow/enrollflow/internal/requirement"
	"github.com/enrollflow/enrollflow/internal/store"
	"github.com/enrollflow/enrollflow/internal/transport"
	"github.com/enrollflow/enrollflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "enrollflowd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.NewMetrics("enrollflow")

	// Step 4: Open stores. Registry and ledger may share a driver but are
	// configured independently.
	regStore, regCloser, err := buildRegistryStore(ctx, cfg.Registry.Store, logger)
	if err != nil {
		logger.Error("registry store initialization failed", zap.Error(err))
		return 1
	}
	ledStore, ledCloser, err := buildLedgerStore(ctx, cfg.Ledger.Store, logger)
	if err != nil {
		logger.Error("ledger store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Build the event publisher and idempotency store.
	events, eventsCloser, err := buildEventSink(cfg.Events, logger)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}
	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 6: Assemble the domain services.
	reg := registry.NewRegistry(regStore, engine.NewLogAuditSink(logger), logger, metrics)
	evaluator := requirement.NewEvaluator(ledStore, requirement.ActionCheckerFunc(
		func(_ context.Context, _ model.Application, _ string) (bool, error) {
			// Required actions are satisfied externally; without an action
			// backend every stage action counts as complete.
			return true, nil
		}))
	eng := engine.NewEngine(engine.Deps{
		Registry:   reg,
		Ledger:     ledStore,
		Evaluator:  evaluator,
		Authorizer: authz.NewAuthorizer(evaluator, nil),
		Events:     events,
		Logger:     logger,
		Metrics:    metrics,
	})

	// Step 7: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{}
	if hc, ok := regStore.(observability.HealthChecker); ok {
		readiness.RegistryStore = hc
	}
	if hc, ok := ledStore.(observability.HealthChecker); ok {
		readiness.LedgerStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     reg,
		Engine:       eng,
		Ledger:       ledStore,
		Idempotency:  idemStore,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("registry_store", cfg.Registry.Store.Driver),
		zap.String("ledger_store", cfg.Ledger.Store.Driver),
		zap.String("events_publisher", cfg.Events.Publisher),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores and publishers.
	if eventsCloser != nil {
		eventsCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}
	if ledCloser != nil {
		ledCloser()
	}
	if regCloser != nil {
		regCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildRegistryStore creates the workflow definition store based on config.
func buildRegistryStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (registry.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory registry store")
		return registry.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("registry store: %w", err)
		}
		return registry.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported registry store driver: %q", cfg.Driver)
	}
}

// buildLedgerStore creates the application/status store based on config.
func buildLedgerStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory ledger store")
		return ledger.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger store: %w", err)
		}
		return ledger.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger store driver: %q", cfg.Driver)
	}
}

// buildEventSink creates the domain event publisher based on config.
func buildEventSink(cfg config.EventsConfig, logger *zap.Logger) (model.EventSink, func(), error) {
	switch cfg.Publisher {
	case "log":
		return engine.NewLogEventSink(logger), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("events: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		sink := engine.NewRedisEventSink(client, cfg.Channel, logger)
		return sink, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events publisher: %q", cfg.Publisher)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (transport.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("idempotency redis address not configured, using in-memory store")
			return transport.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		return transport.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return transport.NewMemoryIdempotencyStore(), nil
	}
}
