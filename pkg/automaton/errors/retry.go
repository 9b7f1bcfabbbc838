package errors

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for handler execution.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	// By default every handler error is retryable except context
	// cancellation.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration for subscriber delivery.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retried operation.
type RetryResult struct {
	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent including backoff.
	Duration time.Duration
}

// WithRetry executes fn with retries, respecting context cancellation.
// fn receives the 1-based attempt number so callers can stamp redelivery
// metadata on each attempt.
func WithRetry(
	ctx context.Context,
	cfg RetryConfig,
	fn func(ctx context.Context, attempt int) error,
) RetryResult {
	start := time.Now()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	backoff := cfg.InitialBackoff
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = func(err error) bool {
			return !isContextError(err)
		}
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult{
				Err:      err,
				Attempts: attempt - 1,
				Duration: time.Since(start),
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return RetryResult{
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}
		lastErr = err

		if !isRetryable(err) || attempt == cfg.MaxAttempts {
			return RetryResult{
				Err:      err,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		sleep := calculateBackoff(backoff, cfg.Jitter)
		select {
		case <-ctx.Done():
			return RetryResult{
				Err:      ctx.Err(),
				Attempts: attempt,
				Duration: time.Since(start),
			}
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return RetryResult{
		Err:      lastErr,
		Attempts: cfg.MaxAttempts,
		Duration: time.Since(start),
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if jitter <= 0 {
		return base
	}
	// base +/- (base * jitter * random)
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	d := time.Duration(float64(base) + amount)
	if d < 0 {
		return 0
	}
	return d
}

func isContextError(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableFunc = fn
	}
}

// NewRetryConfig creates a retry configuration from DefaultRetry and options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
