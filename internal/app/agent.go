package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/classboard/observesync/internal/config"
	"github.com/classboard/observesync/internal/connectivity"
	"github.com/classboard/observesync/internal/queue"
	"github.com/classboard/observesync/internal/status"
	syncpkg "github.com/classboard/observesync/internal/sync"
	"github.com/classboard/observesync/internal/sync/background"
	"github.com/classboard/observesync/internal/telemetry"
	"github.com/classboard/observesync/internal/transport"
)

// QueueFileName is the durable queue file inside the agent data directory
const QueueFileName = "queue.db"

// AgentApp wires the client-side sync components: durable queue,
// connectivity monitor, status publisher, orchestrator and background
// worker, all running under one errgroup.
type AgentApp struct {
	config       *config.AgentConfig
	store        queue.Store
	monitor      connectivity.Monitor
	publisher    *status.Publisher
	orchestrator *syncpkg.Orchestrator
	worker       *background.Worker
}

// AgentAppOption configures the agent app builder
type AgentAppOption func(*agentAppConfig) error

type agentAppConfig struct {
	deliverer     transport.Deliverer
	meterProvider metric.MeterProvider
}

// WithDeliverer allows injecting a custom delivery transport (for testing)
func WithDeliverer(d transport.Deliverer) AgentAppOption {
	return func(cfg *agentAppConfig) error {
		cfg.deliverer = d
		return nil
	}
}

// WithAgentMeterProvider sets the OpenTelemetry meter provider for sync
// metrics
func WithAgentMeterProvider(mp metric.MeterProvider) AgentAppOption {
	return func(cfg *agentAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// NewAgentApp creates the agent runtime from configuration.
func NewAgentApp(agentCfg *config.AgentConfig, opts ...AgentAppOption) (*AgentApp, error) {
	if agentCfg == nil {
		return nil, fmt.Errorf("agent configuration is required")
	}

	cfg := &agentAppConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.deliverer == nil {
		cfg.deliverer = transport.NewClient(agentCfg.ServerURL)
	}

	var syncMetrics *telemetry.SyncMetrics
	if cfg.meterProvider != nil {
		var err error
		syncMetrics, err = telemetry.NewSyncMetrics(cfg.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
	}

	store := queue.Open(filepath.Join(agentCfg.DataDir, QueueFileName))
	monitor := connectivity.NewMonitor()
	publisher := status.NewPublisher(status.SyncStatus{IsOnline: true})
	lastSync := status.NewLastSyncStore(agentCfg.DataDir)

	orchestrator := syncpkg.NewOrchestrator(
		agentCfg.UserID,
		store,
		monitor,
		publisher,
		cfg.deliverer,
		syncpkg.WithFlushInterval(agentCfg.GetFlushInterval()),
		syncpkg.WithLastSyncStore(lastSync),
		syncpkg.WithMetrics(syncMetrics),
	)

	return &AgentApp{
		config:       agentCfg,
		store:        store,
		monitor:      monitor,
		publisher:    publisher,
		orchestrator: orchestrator,
		worker:       background.NewWorker(orchestrator),
	}, nil
}

// Run drives the agent until ctx is cancelled.
func (a *AgentApp) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			slog.Error("Failed to close queue store", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orchestrator.Run(ctx)
	})

	g.Go(func() error {
		return a.worker.Run(ctx)
	})

	g.Go(func() error {
		a.logFailures(ctx)
		return nil
	})

	slog.Info("Sync agent started",
		"user_id", a.config.UserID,
		"server_url", a.config.ServerURL,
		"data_dir", a.config.DataDir)

	return g.Wait()
}

// logFailures surfaces permanent failure events in the agent log.
func (a *AgentApp) logFailures(ctx context.Context) {
	events, unsubscribe := a.orchestrator.SubscribeFailures()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			slog.Error("Write permanently failed and was dropped",
				"target", ev.TargetPath,
				"action", ev.Action,
				"error", ev.LastError)
		}
	}
}

// Orchestrator returns the sync orchestrator.
func (a *AgentApp) Orchestrator() *syncpkg.Orchestrator {
	return a.orchestrator
}

// Publisher returns the status publisher.
func (a *AgentApp) Publisher() *status.Publisher {
	return a.publisher
}

// Monitor returns the connectivity monitor.
func (a *AgentApp) Monitor() connectivity.Monitor {
	return a.monitor
}

// Worker returns the background wake worker.
func (a *AgentApp) Worker() *background.Worker {
	return a.worker
}
