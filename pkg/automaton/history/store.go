// Package history records settled deliveries and job runs for later
// inspection. Stores are optional: the engine works without one, and the
// in-memory store is the default when history is enabled.
package history

import (
	"errors"
	"time"
)

// Store errors.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("history store is closed")
)

// DeliveryRecord captures one settled subscriber delivery.
type DeliveryRecord struct {
	EventID   string        `json:"event_id"`
	EventName string        `json:"event_name"`
	HandlerID string        `json:"handler_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	SettledAt time.Time     `json:"settled_at"`
}

// RunRecord captures one settled job run.
type RunRecord struct {
	Job         string        `json:"job"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Store persists delivery and run records.
//
// Implementations must be safe for concurrent use. Append methods are called
// from dispatcher and scheduler goroutines; failures are logged by the engine
// and never fail the delivery or run that produced the record.
type Store interface {
	// AppendDelivery records a settled delivery.
	AppendDelivery(rec DeliveryRecord) error

	// AppendRun records a settled job run.
	AppendRun(rec RunRecord) error

	// Deliveries returns the most recent delivery records, newest last.
	// A limit <= 0 returns all retained records. An empty eventName matches
	// every event.
	Deliveries(eventName string, limit int) ([]DeliveryRecord, error)

	// Runs returns the most recent run records, newest last. A limit <= 0
	// returns all retained records. An empty job matches every job.
	Runs(job string, limit int) ([]RunRecord, error)

	// Close releases store resources.
	Close() error
}
