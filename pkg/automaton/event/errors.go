package event

import (
	"fmt"
	"time"
)

// EventError represents an error during event dispatch.
type EventError struct {
	Envelope *Envelope // the envelope that failed
	Handler  string    // handler ID, if known
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *EventError) Error() string {
	id := ""
	if e.Envelope != nil {
		id = e.Envelope.ID()
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// FailedDelivery records a delivery that exhausted its retries. It carries
// enough context for an operator to attribute and replay the failure.
type FailedDelivery struct {
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	HandlerID string    `json:"handler_id"`
	Payload   any       `json:"payload,omitempty"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

// newFailedDelivery builds a FailedDelivery from a settled delivery.
func newFailedDelivery(env *Envelope, handlerID string, err error, attempts int) *FailedDelivery {
	return &FailedDelivery{
		EventID:   env.ID(),
		EventName: env.Name(),
		HandlerID: handlerID,
		Payload:   env.Payload(),
		Error:     err.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now(),
	}
}
