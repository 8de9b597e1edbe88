package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// CollectionMetricsMeterName is the name used for the collection metrics meter
const CollectionMetricsMeterName = "github.com/memkit-go/memkit/gc"

// CollectionMetrics holds the OpenTelemetry instruments for collection
// cycle metrics
type CollectionMetrics struct {
	cyclesTotal     metric.Int64Counter
	pauseSeconds    metric.Float64Histogram
	objectsScanned  metric.Int64Counter
	packetsExecuted metric.Int64Counter
	workers         metric.Int64Gauge
}

// NewCollectionMetrics creates a new CollectionMetrics instance with the
// given meter provider. If provider is nil, it returns nil (no-op metrics).
func NewCollectionMetrics(provider metric.MeterProvider) (*CollectionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CollectionMetricsMeterName)

	cyclesTotal, err := meter.Int64Counter(
		"memkit_gc_cycles_total",
		metric.WithDescription("Number of completed collection cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	pauseSeconds, err := meter.Float64Histogram(
		"memkit_gc_pause_seconds",
		metric.WithDescription("Stop-the-world pause duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	objectsScanned, err := meter.Int64Counter(
		"memkit_gc_objects_scanned_total",
		metric.WithDescription("Number of objects scanned during closure"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, err
	}

	packetsExecuted, err := meter.Int64Counter(
		"memkit_gc_packets_executed_total",
		metric.WithDescription("Number of work packets executed"),
		metric.WithUnit("{packet}"),
	)
	if err != nil {
		return nil, err
	}

	workers, err := meter.Int64Gauge(
		"memkit_gc_workers",
		metric.WithDescription("Size of the collection worker pool"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return nil, err
	}

	return &CollectionMetrics{
		cyclesTotal:     cyclesTotal,
		pauseSeconds:    pauseSeconds,
		objectsScanned:  objectsScanned,
		packetsExecuted: packetsExecuted,
		workers:         workers,
	}, nil
}

// RecordCycle records one completed collection cycle
func (m *CollectionMetrics) RecordCycle(pause time.Duration, objectsScanned, packets uint64) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.cyclesTotal.Add(ctx, 1)
	m.pauseSeconds.Record(ctx, pause.Seconds())
	m.objectsScanned.Add(ctx, int64(objectsScanned))
	m.packetsExecuted.Add(ctx, int64(packets))
}

// RecordWorkers records the current worker pool size
func (m *CollectionMetrics) RecordWorkers(count int64) {
	if m == nil {
		return
	}
	m.workers.Record(context.Background(), count)
}
