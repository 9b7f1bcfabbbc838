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

// MetricsRecorder records automaton metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records one publish with its subscriber count.
	RecordPublish(ctx context.Context, eventName string, subscribers int, duration time.Duration)

	// RecordDelivery records one settled delivery with its attempt count
	// and error status.
	RecordDelivery(ctx context.Context, eventName, handlerID string, attempts int, duration time.Duration, err error)

	// RecordJobRun records a settled job run.
	RecordJobRun(ctx context.Context, job string, success bool, duration time.Duration)

	// RecordJobSkip records a firing dropped under the Skip policy.
	RecordJobSkip(ctx context.Context, job string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes       metric.Int64Counter
	publishLatency  metric.Float64Histogram
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deliveryErrors  metric.Int64Counter
	retries         metric.Int64Counter
	jobRuns         metric.Int64Counter
	jobLatency      metric.Float64Histogram
	jobSkips        metric.Int64Counter
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
	meter := otel.Meter("automaton")

	publishes, err := meter.Int64Counter("automaton.events.published",
		metric.WithDescription("Number of events published"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("automaton.publish.latency_ms",
		metric.WithDescription("Publish settle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("automaton.deliveries",
		metric.WithDescription("Number of settled subscriber deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("automaton.delivery.latency_ms",
		metric.WithDescription("Delivery latency in milliseconds including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("automaton.delivery.errors",
		metric.WithDescription("Number of deliveries that exhausted retries"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("automaton.delivery.retries",
		metric.WithDescription("Number of redelivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	jobRuns, err := meter.Int64Counter("automaton.job.runs",
		metric.WithDescription("Number of job runs"),
	)
	if err != nil {
		return nil, err
	}

	jobLatency, err := meter.Float64Histogram("automaton.job.latency_ms",
		metric.WithDescription("Job run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	jobSkips, err := meter.Int64Counter("automaton.job.skips",
		metric.WithDescription("Number of firings skipped due to overlap"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:       publishes,
		publishLatency:  publishLatency,
		deliveries:      deliveries,
		deliveryLatency: deliveryLatency,
		deliveryErrors:  deliveryErrors,
		retries:         retries,
		jobRuns:         jobRuns,
		jobLatency:      jobLatency,
		jobSkips:        jobSkips,
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

// RecordPublish records one publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventName string, subscribers int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_name", eventName),
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDelivery records one settled delivery.
func (m *otelMetrics) RecordDelivery(ctx context.Context, eventName, handlerID string, attempts int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_name", eventName),
		attribute.String("handler_id", handlerID),
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if attempts > 1 {
		m.retries.Add(ctx, int64(attempts-1), metric.WithAttributes(attrs...))
	}
	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordJobRun records a settled job run.
func (m *otelMetrics) RecordJobRun(ctx context.Context, job string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("job", job),
		attribute.Bool("success", success),
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordJobSkip records a skipped firing.
func (m *otelMetrics) RecordJobSkip(ctx context.Context, job string) {
	m.jobSkips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
	))
}
