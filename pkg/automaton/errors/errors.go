// Package errors provides the error taxonomy and retry machinery shared by
// the automaton dispatcher and scheduler.
//
// Three classes of failure exist:
//   - RegistrationError: rejected synchronously at Subscribe/Schedule time
//     (bad handler ID, malformed schedule spec).
//   - HandlerError: a subscriber or job handler failed. These are retried per
//     policy, then recorded and surfaced through observer hooks. They never
//     propagate to the publisher.
//   - FatalError: unrecoverable internal state corruption. The affected
//     component halts and must be restarted explicitly.
package errors

import "fmt"

// RegistrationError indicates an invalid Subscribe or Schedule call.
// It is returned synchronously to the caller.
type RegistrationError struct {
	Op     string // "subscribe" or "schedule"
	Name   string // event name or job name
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Name, e.Reason)
}

// Unwrap returns the underlying error.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure raised by a subscriber or job handler.
// It carries the identity of the handler so observers can attribute it.
type HandlerError struct {
	HandlerID string
	Attempts  int // attempts made before giving up
	Err       error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("handler %s failed after %d attempts: %v", e.HandlerID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("handler %s failed: %v", e.HandlerID, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a handler.
type PanicError struct {
	HandlerID string
	Value     any
	Stack     []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.HandlerID, e.Value)
}

// FatalError indicates unrecoverable internal corruption in a component.
// The component halts; callers must restart it explicitly.
type FatalError struct {
	Component string // e.g. "scheduler"
	Err       error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}
