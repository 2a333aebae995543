package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the agent-side sync meter
	SyncMetricsMeterName = "github.com/classboard/observesync/sync"

	// ReconcileMetricsMeterName is the name used for the server-side
	// reconciliation meter
	ReconcileMetricsMeterName = "github.com/classboard/observesync/reconcile"
)

// SyncMetrics holds the OpenTelemetry instruments for the agent's flush
// passes. A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	flushDuration metric.Float64Histogram
	pendingItems  metric.Int64Gauge
	delivered     metric.Int64Counter
	evicted       metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	flushDuration, err := meter.Float64Histogram(
		"obsync_flush_duration_seconds",
		metric.WithDescription("Duration of queue flush passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	pendingItems, err := meter.Int64Gauge(
		"obsync_pending_items",
		metric.WithDescription("Number of mutation records waiting in the durable queue"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	delivered, err := meter.Int64Counter(
		"obsync_records_delivered_total",
		metric.WithDescription("Total number of mutation records acknowledged by the server"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	evicted, err := meter.Int64Counter(
		"obsync_records_evicted_total",
		metric.WithDescription("Total number of mutation records dropped after exhausting the retry budget"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		flushDuration: flushDuration,
		pendingItems:  pendingItems,
		delivered:     delivered,
		evicted:       evicted,
	}, nil
}

// RecordFlushDuration records the duration of one flush pass
func (m *SyncMetrics) RecordFlushDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.flushDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.flushDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPendingItems records the current durable queue depth
func (m *SyncMetrics) RecordPendingItems(ctx context.Context, count int64) {
	if m == nil || m.pendingItems == nil {
		return
	}

	m.pendingItems.Record(ctx, count)
}

// AddDelivered counts records acknowledged by the server
func (m *SyncMetrics) AddDelivered(ctx context.Context, n int64) {
	if m == nil || m.delivered == nil || n == 0 {
		return
	}

	m.delivered.Add(ctx, n)
}

// AddEvicted counts records dropped after exhausting the retry budget
func (m *SyncMetrics) AddEvicted(ctx context.Context, n int64) {
	if m == nil || m.evicted == nil || n == 0 {
		return
	}

	m.evicted.Add(ctx, n)
}

// ReconcileMetrics holds the OpenTelemetry instruments for the server's
// reconciliation endpoint.
type ReconcileMetrics struct {
	batchSize      metric.Int64Histogram
	itemsProcessed metric.Int64Counter
}

// NewReconcileMetrics creates a new ReconcileMetrics instance with the
// given meter provider. If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	batchSize, err := meter.Int64Histogram(
		"obsync_reconcile_batch_size",
		metric.WithDescription("Number of items per reconciliation batch"),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		return nil, err
	}

	itemsProcessed, err := meter.Int64Counter(
		"obsync_reconcile_items_total",
		metric.WithDescription("Total number of reconciled items by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		batchSize:      batchSize,
		itemsProcessed: itemsProcessed,
	}, nil
}

// RecordBatch records the outcome counts of one reconciliation batch
func (m *ReconcileMetrics) RecordBatch(ctx context.Context, succeeded, failed int64) {
	if m == nil || m.batchSize == nil {
		return
	}

	m.batchSize.Record(ctx, succeeded+failed)

	if succeeded > 0 {
		m.itemsProcessed.Add(ctx, succeeded, metric.WithAttributes(attribute.String("outcome", "success")))
	}
	if failed > 0 {
		m.itemsProcessed.Add(ctx, failed, metric.WithAttributes(attribute.String("outcome", "failure")))
	}
}
