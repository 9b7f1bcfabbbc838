package schedule

import (
	"context"
	"fmt"
	"time"
)

// ConcurrencyPolicy decides what happens when a job comes due while a prior
// run is still executing.
type ConcurrencyPolicy int

const (
	// Skip drops the new firing; the next-fire time still advances.
	Skip ConcurrencyPolicy = iota
	// Queue defers one firing until the running instance completes, then
	// runs it immediately. Further firings while one is queued coalesce.
	Queue
	// Parallel starts a new instance regardless of in-flight runs.
	Parallel
)

// String returns the policy name.
func (p ConcurrencyPolicy) String() string {
	switch p {
	case Skip:
		return "skip"
	case Queue:
		return "queue"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Job is a named unit of recurring work. Names are unique within a
// Scheduler; scheduling an existing name replaces the prior descriptor and
// resets its next-fire computation.
type Job struct {
	Name    string
	Spec    Spec
	Handler func(ctx context.Context) error
	Policy  ConcurrencyPolicy

	// Timeout bounds one run. Zero means no per-run timeout; cancellation
	// then only happens cooperatively via the scheduler's base context.
	Timeout time.Duration
}

// Outcome classifies how a run finished.
type Outcome int

const (
	// Success means the handler returned nil.
	Success Outcome = iota
	// Failure means the handler returned an error or panicked.
	Failure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Run is the ephemeral record of one job execution. The scheduler hands it
// to the OnRun hook and forgets it; persistence is the observer's business.
type Run struct {
	Job         string
	ScheduledAt time.Time // intended fire time
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     Outcome
	Err         error // nil on success
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
