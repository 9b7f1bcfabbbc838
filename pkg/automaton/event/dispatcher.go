package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
)

// Outcome classifies how a single delivery settled.
type Outcome int

const (
	// Success means the handler completed, possibly after retries.
	Success Outcome = iota
	// Failure means the handler failed every attempt (or timed out).
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

// Delivery is the settled result of one subscriber invocation.
type Delivery struct {
	HandlerID string
	Outcome   Outcome
	Err       error // nil on success
	Attempts  int
	Duration  time.Duration
}

// DispatchResult holds one Delivery per subscriber, in registration order.
type DispatchResult []Delivery

// Ok reports whether every delivery succeeded. An empty result is ok.
func (r DispatchResult) Ok() bool {
	for _, d := range r {
		if d.Outcome != Success {
			return false
		}
	}
	return true
}

// Failed returns the deliveries that settled as Failure.
func (r DispatchResult) Failed() []Delivery {
	var failed []Delivery
	for _, d := range r {
		if d.Outcome == Failure {
			failed = append(failed, d)
		}
	}
	return failed
}

// DeadLetter receives deliveries that exhausted their retries.
type DeadLetter interface {
	Enqueue(ctx context.Context, failed *FailedDelivery) error
}

// DispatcherConfig configures dispatch behavior.
type DispatcherConfig struct {
	// MaxDepth bounds re-entrant publish chains (a handler publishing an
	// event whose handler publishes again, and so on).
	// Default: 10
	MaxDepth int

	// MaxConcurrent limits handler invocations in flight across all
	// publishes. Default: 0 (unlimited)
	MaxConcurrent int

	// HandlerTimeout bounds a single handler attempt when the subscription
	// does not set its own. Default: 30s. A stuck handler is marked Failure
	// once the timeout elapses; other deliveries continue.
	HandlerTimeout time.Duration

	// Retry is the default retry policy for subscriptions that do not set
	// MaxRetries/RetryBackoff.
	Retry autoerrors.RetryConfig

	// DLQ receives deliveries that exhausted retries (optional).
	DLQ DeadLetter

	// OnError is called after a delivery settles as Failure.
	OnError func(env *Envelope, handlerID string, err error)

	// OnSuccess is called after a delivery settles as Success.
	OnSuccess func(env *Envelope, handlerID string, attempts int, duration time.Duration)
}

// DefaultDispatcherConfig provides reasonable defaults.
var DefaultDispatcherConfig = DispatcherConfig{
	MaxDepth:       10,
	HandlerTimeout: 30 * time.Second,
	Retry:          autoerrors.DefaultRetry,
}

// Dispatcher resolves subscribers at publish time and invokes them
// independently: one handler's failure never prevents another from seeing
// the event, and handlers may safely publish further events from within an
// invocation (dispatch is re-entrant, holding no locks during handler
// execution).
type Dispatcher struct {
	cfg        DispatcherConfig
	registry   *Registry
	middleware []Middleware
	mwMu       sync.RWMutex

	sem    chan struct{}
	async  sync.WaitGroup
	closed atomic.Bool
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultDispatcherConfig.MaxDepth
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultDispatcherConfig.HandlerTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultDispatcherConfig.Retry
	}

	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
	}
	if cfg.MaxConcurrent > 0 {
		d.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return d
}

// Use adds middleware applied to every handler invocation. First added is
// outermost.
func (d *Dispatcher) Use(mw Middleware) {
	d.mwMu.Lock()
	defer d.mwMu.Unlock()
	d.middleware = append(d.middleware, mw)
}

// Publish dispatches a named event to all current subscribers and returns
// once every delivery (including retries) has settled. Publishing with no
// subscribers returns an empty result without error.
func (d *Dispatcher) Publish(ctx context.Context, name string, payload any, opts ...EnvelopeOption) (DispatchResult, error) {
	return d.PublishEnvelope(ctx, NewEnvelope(name, payload, opts...))
}

// PublishEnvelope dispatches a pre-built envelope. Handlers republishing
// downstream events should build them with NewFromParent so correlation is
// preserved.
func (d *Dispatcher) PublishEnvelope(ctx context.Context, env *Envelope) (DispatchResult, error) {
	if d.closed.Load() {
		return nil, &EventError{Envelope: env, Message: "dispatcher is closed"}
	}

	depth := dispatchDepth(ctx)
	if depth >= d.cfg.MaxDepth {
		return nil, &EventError{
			Envelope: env,
			Message:  fmt.Sprintf("max dispatch depth exceeded (%d)", d.cfg.MaxDepth),
		}
	}
	ctx = withDispatchDepth(ctx, depth+1)

	// Snapshot semantics: subscribers registered after this point are not
	// part of this dispatch.
	subs := d.registry.Lookup(env.Name())
	if len(subs) == 0 {
		return DispatchResult{}, nil
	}

	d.mwMu.RLock()
	middleware := d.middleware
	d.mwMu.RUnlock()

	// Re-entrant publishes bypass the semaphore: a handler holding the last
	// slot would otherwise deadlock waiting for its own nested deliveries.
	useSem := d.sem != nil && depth == 0

	results := make(DispatchResult, len(subs))

	// Start gates enforce that handler i begins its first attempt before
	// handler i+1, while execution itself overlaps freely.
	gates := make([]chan struct{}, len(subs)+1)
	for i := range gates {
		gates[i] = make(chan struct{})
	}
	close(gates[0])

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(idx int, sub Subscription) {
			defer wg.Done()

			<-gates[idx]
			if useSem {
				d.sem <- struct{}{}
				defer func() { <-d.sem }()
			}
			close(gates[idx+1])

			results[idx] = d.deliver(ctx, env, sub, middleware)
		}(i, sub)
	}
	wg.Wait()

	return results, nil
}

// Go publishes without blocking the caller. The returned channel receives
// the settled result; callers may ignore it for fire-and-forget semantics.
// Outstanding async publishes are tracked so Close can drain them.
func (d *Dispatcher) Go(ctx context.Context, name string, payload any, opts ...EnvelopeOption) <-chan DispatchResult {
	ch := make(chan DispatchResult, 1)
	d.async.Add(1)
	go func() {
		defer d.async.Done()
		result, _ := d.Publish(ctx, name, payload, opts...)
		ch <- result
		close(ch)
	}()
	return ch
}

// Close stops accepting publishes and waits for outstanding async publishes
// to settle, honoring ctx for the wait.
func (d *Dispatcher) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver runs a single subscription to settlement: retries, timeout,
// panic containment, observer hooks, DLQ.
func (d *Dispatcher) deliver(ctx context.Context, env *Envelope, sub Subscription, middleware []Middleware) Delivery {
	handler := ChainMiddleware(sub.Handler, middleware...)

	retryCfg := d.cfg.Retry
	if sub.Options.retriesSet {
		retryCfg.MaxAttempts = sub.Options.MaxRetries + 1
		if retryCfg.MaxAttempts < 1 {
			retryCfg.MaxAttempts = 1
		}
	}
	if sub.Options.RetryBackoff > 0 {
		retryCfg.InitialBackoff = sub.Options.RetryBackoff
	}
	timeout := sub.Options.Timeout
	if timeout <= 0 {
		timeout = d.cfg.HandlerTimeout
	}

	result := autoerrors.WithRetry(ctx, retryCfg, func(ctx context.Context, attempt int) (err error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err = &autoerrors.PanicError{
					HandlerID: sub.HandlerID,
					Value:     r,
					Stack:     debug.Stack(),
				}
			}
		}()
		return handler.Handle(attemptCtx, env.withAttempt(attempt))
	})

	delivery := Delivery{
		HandlerID: sub.HandlerID,
		Attempts:  result.Attempts,
		Duration:  result.Duration,
	}
	if result.Err != nil {
		delivery.Outcome = Failure
		delivery.Err = &autoerrors.HandlerError{
			HandlerID: sub.HandlerID,
			Attempts:  result.Attempts,
			Err:       result.Err,
		}

		if d.cfg.DLQ != nil {
			failed := newFailedDelivery(env, sub.HandlerID, result.Err, result.Attempts)
			if dlqErr := d.cfg.DLQ.Enqueue(ctx, failed); dlqErr != nil && d.cfg.OnError != nil {
				d.cfg.OnError(env, "dlq", dlqErr)
			}
		}
		if d.cfg.OnError != nil {
			d.cfg.OnError(env, sub.HandlerID, delivery.Err)
		}
		return delivery
	}

	delivery.Outcome = Success
	if d.cfg.OnSuccess != nil {
		d.cfg.OnSuccess(env, sub.HandlerID, result.Attempts, result.Duration)
	}
	return delivery
}

// Context keys for dispatch depth tracking.
type contextKey string

const dispatchDepthKey contextKey = "dispatch_depth"

func dispatchDepth(ctx context.Context) int {
	if v := ctx.Value(dispatchDepthKey); v != nil {
		return v.(int)
	}
	return 0
}

func withDispatchDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, dispatchDepthKey, depth)
}

// RecoveryMiddleware converts handler panics into errors. The dispatcher
// already contains panics; this middleware is for collaborators running
// handlers outside the dispatcher.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, env *Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &EventError{
						Envelope: env,
						Message:  fmt.Sprintf("handler panic: %v", r),
					}
				}
			}()
			return next.Handle(ctx, env)
		})
	}
}

// LoggingMiddleware reports every invocation to logFn with its duration and
// error.
func LoggingMiddleware(logFn func(eventName string, duration time.Duration, err error)) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, env *Envelope) error {
			start := time.Now()
			err := next.Handle(ctx, env)
			logFn(env.Name(), time.Since(start), err)
			return err
		})
	}
}
