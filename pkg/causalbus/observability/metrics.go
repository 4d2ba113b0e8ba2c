package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an admitted publish. rejected marks a
	// publish turned away by quota instead.
	RecordPublish(ctx context.Context, channel string, rejected bool)

	// RecordDelivery records an event handed to subscribers, with the
	// time it spent buffered and whether its order was disturbed.
	RecordDelivery(ctx context.Context, channel string, buffered time.Duration, reordered, forced bool)

	// RecordCompression records a merge of n events into one delivery.
	RecordCompression(ctx context.Context, channel string, merged int)

	// RecordRelay records cluster traffic: events relayed out, ingested
	// from peers, or absorbed as duplicates.
	RecordRelay(ctx context.Context, direction string, duplicate bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes      metric.Int64Counter
	rejections     metric.Int64Counter
	deliveries     metric.Int64Counter
	bufferedTime   metric.Float64Histogram
	reorderedCount metric.Int64Counter
	forcedFlushes  metric.Int64Counter
	compressed     metric.Int64Counter
	relayed        metric.Int64Counter
	duplicates     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("causalbus")

	publishes, err := meter.Int64Counter("causalbus.publishes",
		metric.WithDescription("Number of admitted publishes"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter("causalbus.quota.rejections",
		metric.WithDescription("Number of publishes rejected by quota"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("causalbus.deliveries",
		metric.WithDescription("Number of events delivered to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	bufferedTime, err := meter.Float64Histogram("causalbus.buffer.hold_ms",
		metric.WithDescription("Time events spend in the ordered-delivery buffer"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	reorderedCount, err := meter.Int64Counter("causalbus.deliveries.reordered",
		metric.WithDescription("Number of deliveries flagged as reordered"),
	)
	if err != nil {
		return nil, err
	}

	forcedFlushes, err := meter.Int64Counter("causalbus.buffer.forced_flushes",
		metric.WithDescription("Number of deliveries released by ceiling flushes"),
	)
	if err != nil {
		return nil, err
	}

	compressed, err := meter.Int64Counter("causalbus.compressed",
		metric.WithDescription("Number of events absorbed into merged deliveries"),
	)
	if err != nil {
		return nil, err
	}

	relayed, err := meter.Int64Counter("causalbus.cluster.relayed",
		metric.WithDescription("Number of events crossing the cluster bridge"),
	)
	if err != nil {
		return nil, err
	}

	duplicates, err := meter.Int64Counter("causalbus.cluster.duplicates",
		metric.WithDescription("Number of peer events absorbed by dedup"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:      publishes,
		rejections:     rejections,
		deliveries:     deliveries,
		bufferedTime:   bufferedTime,
		reorderedCount: reorderedCount,
		forcedFlushes:  forcedFlushes,
		compressed:     compressed,
		relayed:        relayed,
		duplicates:     duplicates,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an admitted or rejected publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, channel string, rejected bool) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
	}
	if rejected {
		m.rejections.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDelivery records an event handed to subscribers.
func (m *otelMetrics) RecordDelivery(ctx context.Context, channel string, buffered time.Duration, reordered, forced bool) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", channel),
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.bufferedTime.Record(ctx, float64(buffered.Milliseconds()), metric.WithAttributes(attrs...))
	if reordered {
		m.reorderedCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if forced {
		m.forcedFlushes.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordCompression records a semantic merge.
func (m *otelMetrics) RecordCompression(ctx context.Context, channel string, merged int) {
	m.compressed.Add(ctx, int64(merged), metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordRelay records cluster traffic. direction is "out" or "in".
func (m *otelMetrics) RecordRelay(ctx context.Context, direction string, duplicate bool) {
	attrs := []attribute.KeyValue{
		attribute.String("direction", direction),
	}
	if duplicate {
		m.duplicates.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.relayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}
