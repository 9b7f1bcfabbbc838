// Package event implements the in-memory event dispatch core: immutable
// envelopes, a copy-on-write subscription registry, and a dispatcher that
// fans envelopes out to subscribers with per-subscription retry, timeout,
// and failure isolation.
//
// Design influences:
//   - AWS EventBridge (dead letter queues, error containment)
//   - Apache Kafka (fan-out, correlation IDs)
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Envelope is an immutable record of a named event. Envelopes are created
// per publish call; redelivery produces a fresh copy with an incremented
// attempt count rather than mutating the original.
type Envelope struct {
	id            string
	name          string
	payload       any
	occurredAt    time.Time
	attempt       int
	correlationID string
	causationID   string
}

// EnvelopeOption configures envelope construction.
type EnvelopeOption func(*Envelope)

// WithID sets a specific envelope ID (default: auto-generated UUID).
func WithID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.id = id
	}
}

// WithCorrelationID sets the correlation ID linking related events.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.correlationID = id
	}
}

// WithCausationID sets the ID of the envelope that caused this one.
func WithCausationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.causationID = id
	}
}

// WithOccurredAt sets a specific occurrence time (default: time.Now()).
func WithOccurredAt(t time.Time) EnvelopeOption {
	return func(e *Envelope) {
		e.occurredAt = t
	}
}

// NewEnvelope creates an envelope for a named event. Event names are
// dot-namespaced by convention (e.g. "order.placed"). The payload schema is
// owned by the publisher and opaque to the dispatch core.
func NewEnvelope(name string, payload any, opts ...EnvelopeOption) *Envelope {
	e := &Envelope{
		id:         uuid.New().String(),
		name:       name,
		payload:    payload,
		occurredAt: time.Now(),
		attempt:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	// If no correlation ID, this envelope is the root of its chain.
	if e.correlationID == "" {
		e.correlationID = e.id
	}
	return e
}

// NewFromParent creates an envelope caused by a parent envelope, inheriting
// its correlation ID and recording causation. Handlers that publish
// downstream events should use this to keep chains traceable.
func NewFromParent(parent *Envelope, name string, payload any, opts ...EnvelopeOption) *Envelope {
	parentOpts := []EnvelopeOption{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	return NewEnvelope(name, payload, append(parentOpts, opts...)...)
}

// ID returns the unique envelope identifier.
func (e *Envelope) ID() string { return e.id }

// Name returns the dot-namespaced event name.
func (e *Envelope) Name() string { return e.name }

// Payload returns the publisher-owned payload.
func (e *Envelope) Payload() any { return e.payload }

// OccurredAt returns when the event occurred.
func (e *Envelope) OccurredAt() time.Time { return e.occurredAt }

// Attempt returns the 1-based delivery attempt count.
func (e *Envelope) Attempt() int { return e.attempt }

// CorrelationID returns the ID grouping related events in a chain.
func (e *Envelope) CorrelationID() string { return e.correlationID }

// CausationID returns the ID of the envelope that caused this one, or ""
// for root events.
func (e *Envelope) CausationID() string { return e.causationID }

// withAttempt returns a copy of the envelope stamped with the given attempt
// count. The receiver is unchanged.
func (e *Envelope) withAttempt(attempt int) *Envelope {
	clone := *e
	clone.attempt = attempt
	return &clone
}

// Handler consumes an envelope and may fail. Implementations are supplied
// by domain collaborators; the dispatch core depends only on this interface.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Middleware wraps handlers to add cross-cutting concerns.
type Middleware func(next Handler) Handler

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(handler Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
