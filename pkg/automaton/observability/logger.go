// Package observability provides structured logging, metrics, and tracing
// helpers for the automaton engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger. Returns a new logger with
// event_id, event_name, and attempt fields.
func EnrichLogger(logger *slog.Logger, eventID, eventName string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_name", eventName),
		slog.Int("attempt", attempt),
	)
}

// LogPublish logs the start of a dispatch.
func LogPublish(logger *slog.Logger, eventID, eventName string, subscribers int) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", eventID),
		slog.String("event_name", eventName),
		slog.Int("subscribers", subscribers),
	)
}

// LogDeliverySuccess logs a delivery that settled successfully.
func LogDeliverySuccess(logger *slog.Logger, eventName, handlerID string, attempts int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("delivery succeeded",
		slog.String("event_name", eventName),
		slog.String("handler_id", handlerID),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryFailure logs a delivery that exhausted its retries.
func LogDeliveryFailure(logger *slog.Logger, eventName, handlerID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("event_name", eventName),
		slog.String("handler_id", handlerID),
		slog.String("error", err.Error()),
	)
}

// LogJobRun logs a settled job run.
func LogJobRun(logger *slog.Logger, job string, success bool, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if success {
		logger.Debug("job run completed",
			slog.String("job", job),
			slog.Float64("duration_ms", durationMs),
		)
		return
	}
	logger.Warn("job run failed",
		slog.String("job", job),
		slog.Float64("duration_ms", durationMs),
		slog.String("error", err.Error()),
	)
}

// LogJobSkip logs a firing dropped under the Skip policy.
func LogJobSkip(logger *slog.Logger, job string) {
	if logger == nil {
		return
	}
	logger.Debug("job firing skipped",
		slog.String("job", job),
	)
}

// TimedOperation measures the duration of an operation. Returns a function
// that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
