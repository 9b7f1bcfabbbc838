package event

import (
	"strings"
	"sync"
	"time"

	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
)

// SubscribeOptions control delivery behavior for a single subscription.
// Zero values fall back to the dispatcher defaults.
type SubscribeOptions struct {
	// MaxRetries is the number of redeliveries after a failed first attempt.
	// Total attempts = MaxRetries + 1. Negative disables retries.
	MaxRetries int

	// RetryBackoff is the initial backoff before the first redelivery.
	// Backoff grows exponentially and is capped by the dispatcher config.
	RetryBackoff time.Duration

	// Timeout bounds a single handler invocation. Zero uses the dispatcher
	// default.
	Timeout time.Duration

	retriesSet bool
}

// SubscribeOption mutates SubscribeOptions.
type SubscribeOption func(*SubscribeOptions)

// WithMaxRetries sets the redelivery count for a subscription.
func WithMaxRetries(n int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.MaxRetries = n
		o.retriesSet = true
	}
}

// WithRetryBackoff sets the initial redelivery backoff for a subscription.
func WithRetryBackoff(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RetryBackoff = d
	}
}

// WithDeliveryTimeout bounds a single handler invocation.
func WithDeliveryTimeout(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.Timeout = d
	}
}

// Subscription binds a handler to an event name. Subscriptions are owned by
// the Registry; the handler is a borrowed reference supplied by a
// collaborator.
type Subscription struct {
	EventName string
	HandlerID string
	Handler   Handler
	Options   SubscribeOptions
}

// Registry maps event names to ordered subscriber lists.
//
// Writes copy the affected list so Lookup can hand out snapshots that stay
// consistent for the duration of an in-flight dispatch: a slice returned by
// Lookup is never mutated afterwards.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]Subscription
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string][]Subscription)}
}

// Register upserts a subscription. Insertion order determines invocation
// order; re-registering an existing handler ID replaces the handler in
// place, keeping its original position.
func (r *Registry) Register(eventName, handlerID string, h Handler, opts ...SubscribeOption) error {
	if strings.TrimSpace(eventName) == "" {
		return &autoerrors.RegistrationError{Op: "subscribe", Name: eventName, Reason: "event name required"}
	}
	if strings.TrimSpace(handlerID) == "" {
		return &autoerrors.RegistrationError{Op: "subscribe", Name: eventName, Reason: "handler id required"}
	}
	if h == nil {
		return &autoerrors.RegistrationError{Op: "subscribe", Name: eventName, Reason: "handler required"}
	}

	var options SubscribeOptions
	for _, opt := range opts {
		opt(&options)
	}
	sub := Subscription{
		EventName: eventName,
		HandlerID: handlerID,
		Handler:   h,
		Options:   options,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.subs[eventName]
	next := make([]Subscription, len(current), len(current)+1)
	copy(next, current)

	replaced := false
	for i := range next {
		if next[i].HandlerID == handlerID {
			next[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, sub)
	}
	r.subs[eventName] = next
	return nil
}

// Unregister removes a subscription. It is a no-op if absent.
func (r *Registry) Unregister(eventName, handlerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.subs[eventName]
	if !ok {
		return
	}
	next := make([]Subscription, 0, len(current))
	for _, sub := range current {
		if sub.HandlerID == handlerID {
			continue
		}
		next = append(next, sub)
	}
	if len(next) == len(current) {
		return
	}
	if len(next) == 0 {
		delete(r.subs, eventName)
		return
	}
	r.subs[eventName] = next
}

// Lookup returns the subscribers for an event name in registration order.
// Unknown names yield an empty slice. The returned slice is a stable
// snapshot; concurrent Register/Unregister calls do not affect it.
func (r *Registry) Lookup(eventName string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[eventName]
}

// Len returns the number of subscriptions for an event name.
func (r *Registry) Len(eventName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[eventName])
}

// EventNames returns all event names with at least one subscriber.
func (r *Registry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	return names
}
