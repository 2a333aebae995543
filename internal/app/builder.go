package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/classboard/observesync/internal/config"
	"github.com/classboard/observesync/internal/db"
	"github.com/classboard/observesync/internal/server"
	"github.com/classboard/observesync/internal/server/api"
	"github.com/classboard/observesync/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// ServerAppOption is a function that configures the server app builder
type ServerAppOption func(*serverAppConfig) error

// serverAppConfig builds a ServerApp using the builder pattern. It
// supports dependency injection for testing while providing sensible
// defaults for production.
type serverAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	observations server.ObservationStore
	ledger       server.LedgerStore

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// NewServerApp creates a new reconciliation server app with the given
// configuration.
func NewServerApp(ctx context.Context, opts ...ServerAppOption) (*ServerApp, error) {
	cfg := &serverAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil || cfg.config.Server == nil {
		return nil, fmt.Errorf("server configuration is required")
	}

	pool, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := buildService(cfg)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	httpServer, err := buildHTTPServer(cfg, svc)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &ServerApp{
		config:     cfg.config,
		httpServer: httpServer,
		pool:       pool,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host := parts[0]
		port := parts[1]

		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStores allows injecting custom stores (for testing)
func WithStores(observations server.ObservationStore, ledger server.LedgerStore) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		cfg.observations = observations
		cfg.ledger = ledger
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for metrics
func WithMeterProvider(mp metric.MeterProvider) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for tracing
func WithTracerProvider(tp trace.TracerProvider) ServerAppOption {
	return func(cfg *serverAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// buildStores resolves the store backends: injected, in-memory, or
// Postgres. Returns the pool when one was opened so the app can close it.
func buildStores(ctx context.Context, cfg *serverAppConfig) (*pgxpool.Pool, error) {
	if cfg.observations != nil && cfg.ledger != nil {
		return nil, nil
	}

	if cfg.config.Server.InMemory {
		slog.Info("Using in-memory stores, state will not survive a restart")
		cfg.observations = server.NewMemoryObservationStore()
		cfg.ledger = server.NewMemoryLedgerStore()
		return nil, nil
	}

	pool, err := db.Connect(ctx, cfg.config.Server.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cfg.observations, err = server.NewPostgresObservationStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	cfg.ledger, err = server.NewPostgresLedgerStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// buildService builds the reconciliation service
func buildService(cfg *serverAppConfig) (*server.Service, error) {
	var svcOpts []server.ServiceOption

	if cfg.meterProvider != nil {
		reconcileMetrics, err := telemetry.NewReconcileMetrics(cfg.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create reconcile metrics: %w", err)
		}
		if reconcileMetrics != nil {
			svcOpts = append(svcOpts, server.WithReconcileMetrics(reconcileMetrics))
		}
	}

	return server.NewService(cfg.observations, cfg.ledger, svcOpts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(cfg *serverAppConfig, svc *server.Service) (*http.Server, error) {
	if cfg.middlewares == nil {
		cfg.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(cfg.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics go first so every request is counted, then tracing so the
	// span covers the rest of the chain
	if cfg.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(cfg.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		cfg.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, cfg.middlewares...)
	}
	if cfg.tracerProvider != nil {
		tracingMiddleware := telemetry.TracingMiddleware(cfg.tracerProvider)
		cfg.middlewares = append([]func(http.Handler) http.Handler{tracingMiddleware}, cfg.middlewares...)
	}

	router := api.NewServer(svc, api.WithMiddlewares(cfg.middlewares...))

	httpServer := &http.Server{
		Addr:         cfg.address,
		Handler:      router,
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
		IdleTimeout:  cfg.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", cfg.address)
	return httpServer, nil
}
