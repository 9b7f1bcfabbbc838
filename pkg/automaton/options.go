package automaton

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/automaton/pkg/automaton/config"
	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
	"github.com/randalmurphal/automaton/pkg/automaton/event"
	"github.com/randalmurphal/automaton/pkg/automaton/history"
	"github.com/randalmurphal/automaton/pkg/automaton/observability"
)

// engineConfig holds all engine settings. Built from Options; zero values
// fall back to the collaborator defaults.
type engineConfig struct {
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	historyStore history.Store

	maxDepth       int
	maxConcurrent  int
	handlerTimeout time.Duration
	retry          autoerrors.RetryConfig

	dlqSize int // 0 disables the dead letter queue

	schedulerMaxConcurrent int
	drainTimeout           time.Duration

	onDeliveryError func(env *event.Envelope, handlerID string, err error)
	onRunError      func(job string, err error)
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		retry:        autoerrors.DefaultRetry,
		drainTimeout: 30 * time.Second,
	}
}

// Option configures the engine.
type Option func(*engineConfig)

// WithLogger sets the structured logger. Nil (the default) disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics() Option {
	return func(c *engineConfig) {
		c.metrics = observability.NewMetricsRecorder()
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		c.metrics = m
	}
}

// WithTracing enables OpenTelemetry spans around publishes and job runs,
// using the global tracer provider.
func WithTracing() Option {
	return func(c *engineConfig) {
		c.spans = observability.NewSpanManager()
	}
}

// WithHistory records settled deliveries and job runs to the given store.
func WithHistory(store history.Store) Option {
	return func(c *engineConfig) {
		c.historyStore = store
	}
}

// WithDefaultRetry sets the retry policy for subscriptions that do not
// configure their own.
func WithDefaultRetry(cfg autoerrors.RetryConfig) Option {
	return func(c *engineConfig) {
		c.retry = cfg
	}
}

// WithHandlerTimeout bounds a single handler attempt when the subscription
// does not set its own timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxConcurrent limits handler invocations in flight across all
// publishes. Zero means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(c *engineConfig) {
		c.maxConcurrent = n
	}
}

// WithMaxDepth bounds re-entrant publish chains.
func WithMaxDepth(n int) Option {
	return func(c *engineConfig) {
		c.maxDepth = n
	}
}

// WithDeadLetter enables an in-memory dead letter queue retaining up to
// maxSize failed deliveries.
func WithDeadLetter(maxSize int) Option {
	return func(c *engineConfig) {
		if maxSize <= 0 {
			maxSize = event.DefaultDeadLetterConfig.MaxSize
		}
		c.dlqSize = maxSize
	}
}

// WithSchedulerMaxConcurrent limits simultaneous job runs across all jobs.
// Zero means unlimited.
func WithSchedulerMaxConcurrent(n int) Option {
	return func(c *engineConfig) {
		c.schedulerMaxConcurrent = n
	}
}

// WithDrainTimeout bounds Stop's wait for in-flight work. Zero waits
// indefinitely.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.drainTimeout = d
	}
}

// WithDeliveryErrorHook registers a callback invoked after a delivery settles
// as Failure.
func WithDeliveryErrorHook(fn func(env *event.Envelope, handlerID string, err error)) Option {
	return func(c *engineConfig) {
		c.onDeliveryError = fn
	}
}

// WithRunErrorHook registers a callback invoked after a job run fails.
func WithRunErrorHook(fn func(job string, err error)) Option {
	return func(c *engineConfig) {
		c.onRunError = fn
	}
}

// FromConfig derives engine options from a loaded configuration.
//
// Recognized keys:
//
//	dispatcher:
//	  max_depth: 10
//	  max_concurrent: 16
//	  handler_timeout: 30s
//	  retry:
//	    max_attempts: 3
//	    initial_backoff: 100ms
//	    max_backoff: 10s
//	    backoff_factor: 2.0
//	  dead_letter_size: 10000
//	scheduler:
//	  max_concurrent: 8
//	  drain_timeout: 30s
func FromConfig(cfg config.Config) []Option {
	var opts []Option

	d := cfg.Sub("dispatcher")
	if n := d.Int("max_depth", 0); n > 0 {
		opts = append(opts, WithMaxDepth(n))
	}
	if n := d.Int("max_concurrent", 0); n > 0 {
		opts = append(opts, WithMaxConcurrent(n))
	}
	if t := d.Duration("handler_timeout", 0); t > 0 {
		opts = append(opts, WithHandlerTimeout(t))
	}
	if n := d.Int("dead_letter_size", 0); n > 0 {
		opts = append(opts, WithDeadLetter(n))
	}

	r := d.Sub("retry")
	if len(r.Raw()) > 0 {
		retry := autoerrors.DefaultRetry
		retry.MaxAttempts = r.Int("max_attempts", retry.MaxAttempts)
		retry.InitialBackoff = r.Duration("initial_backoff", retry.InitialBackoff)
		retry.MaxBackoff = r.Duration("max_backoff", retry.MaxBackoff)
		retry.BackoffFactor = r.Float("backoff_factor", retry.BackoffFactor)
		opts = append(opts, WithDefaultRetry(retry))
	}

	s := cfg.Sub("scheduler")
	if n := s.Int("max_concurrent", 0); n > 0 {
		opts = append(opts, WithSchedulerMaxConcurrent(n))
	}
	if t := s.Duration("drain_timeout", 0); t > 0 {
		opts = append(opts, WithDrainTimeout(t))
	}

	return opts
}
