package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	autoerrors "github.com/randalmurphal/automaton/pkg/automaton/errors"
)

// fastRetry keeps test retries quick.
var fastRetry = autoerrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	BackoffFactor:  1.0,
}

func newTestDispatcher(cfg DispatcherConfig) (*Dispatcher, *Registry) {
	r := NewRegistry()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry
	}
	return NewDispatcher(r, cfg), r
}

func TestPublishNoSubscribers(t *testing.T) {
	d, _ := newTestDispatcher(DispatcherConfig{})

	result, err := d.Publish(context.Background(), "order.placed", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result, got %d deliveries", len(result))
	}
	if !result.Ok() {
		t.Error("empty result should be ok")
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var count atomic.Int64
	for _, id := range []string{"inventory", "receipts", "loyalty"} {
		r.Register("order.placed", id, HandlerFunc(func(ctx context.Context, env *Envelope) error {
			count.Add(1)
			return nil
		}))
	}

	result, err := d.Publish(context.Background(), "order.placed", "o-1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count.Load() != 3 {
		t.Errorf("expected 3 invocations, got %d", count.Load())
	}
	if len(result) != 3 || !result.Ok() {
		t.Errorf("unexpected result: %+v", result)
	}

	// Deliveries come back in registration order.
	want := []string{"inventory", "receipts", "loyalty"}
	for i, dl := range result {
		if dl.HandlerID != want[i] {
			t.Errorf("result[%d] = %s, want %s", i, dl.HandlerID, want[i])
		}
	}
}

func TestPublishInvocationInitiationOrder(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var mu sync.Mutex
	var started []string
	for _, id := range []string{"a", "b", "c", "d"} {
		handlerID := id
		r.Register("e", handlerID, HandlerFunc(func(ctx context.Context, env *Envelope) error {
			mu.Lock()
			started = append(started, handlerID)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return nil
		}))
	}

	want := []string{"a", "b", "c", "d"}
	for range 10 {
		mu.Lock()
		started = nil
		mu.Unlock()
		if _, err := d.Publish(context.Background(), "e", nil); err != nil {
			t.Fatalf("publish: %v", err)
		}
		mu.Lock()
		got := append([]string(nil), started...)
		mu.Unlock()
		if len(got) != len(want) {
			t.Fatalf("started %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("initiation order %v, want %v", got, want)
			}
		}
	}
}

func TestPublishSnapshotSemantics(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var late atomic.Bool
	r.Register("e", "first", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		// Registered mid-dispatch; must not see this event.
		r.Register("e", "late", HandlerFunc(func(ctx context.Context, env *Envelope) error {
			late.Store(true)
			return nil
		}))
		return nil
	}))

	result, err := d.Publish(context.Background(), "e", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected 1 delivery, got %d", len(result))
	}
	if late.Load() {
		t.Error("handler registered during dispatch must not receive the in-flight event")
	}

	// The next publish sees both.
	result, _ = d.Publish(context.Background(), "e", nil)
	if len(result) != 2 {
		t.Errorf("expected 2 deliveries on second publish, got %d", len(result))
	}
}

func TestPublishRetriesUntilSuccess(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var fails atomic.Int64
	var attempts []int
	var mu sync.Mutex
	r.Register("e", "flaky", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		mu.Lock()
		attempts = append(attempts, env.Attempt())
		mu.Unlock()
		if fails.Add(1) <= 2 {
			return errors.New("transient")
		}
		return nil
	}), WithMaxRetries(5), WithRetryBackoff(time.Millisecond))

	result, err := d.Publish(context.Background(), "e", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.Ok() {
		t.Fatalf("expected success after retries: %+v", result)
	}
	// Failed twice then succeeded: attempt count is failures + 1.
	if result[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result[0].Attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3}
	for i := range want {
		if attempts[i] != want[i] {
			t.Errorf("envelope attempt stamps %v, want %v", attempts, want)
			break
		}
	}
}

func TestPublishExplicitZeroRetries(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var calls atomic.Int64
	r.Register("e", "once", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		calls.Add(1)
		return errors.New("fail")
	}), WithMaxRetries(0))

	result, _ := d.Publish(context.Background(), "e", nil)
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt with zero retries, got %d", calls.Load())
	}
	if result[0].Outcome != Failure {
		t.Error("expected failure outcome")
	}
}

func TestPublishFailureIsolation(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var delivered atomic.Int64
	r.Register("e", "broken", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		return errors.New("boom")
	}), WithMaxRetries(0))
	r.Register("e", "healthy-1", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		delivered.Add(1)
		return nil
	}))
	r.Register("e", "healthy-2", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		delivered.Add(1)
		return nil
	}))

	// Publisher is insulated: the error surfaces in the result, not err.
	result, err := d.Publish(context.Background(), "e", nil)
	if err != nil {
		t.Fatalf("handler failure must not fail the publish call: %v", err)
	}
	if delivered.Load() != 2 {
		t.Errorf("healthy handlers must still run, got %d", delivered.Load())
	}

	failed := result.Failed()
	if len(failed) != 1 || failed[0].HandlerID != "broken" {
		t.Fatalf("unexpected failed set: %+v", failed)
	}
	var handlerErr *autoerrors.HandlerError
	if !errors.As(failed[0].Err, &handlerErr) {
		t.Errorf("expected HandlerError, got %v", failed[0].Err)
	}
}

func TestPublishPanicContainment(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	r.Register("e", "panicky", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		panic("nil map write")
	}), WithMaxRetries(0))
	var survived atomic.Bool
	r.Register("e", "survivor", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		survived.Store(true)
		return nil
	}))

	result, err := d.Publish(context.Background(), "e", nil)
	if err != nil {
		t.Fatalf("panic must not fail the publish call: %v", err)
	}
	if !survived.Load() {
		t.Error("panic must not prevent other deliveries")
	}

	failed := result.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", len(failed))
	}
	var panicErr *autoerrors.PanicError
	if !errors.As(failed[0].Err, &panicErr) {
		t.Errorf("expected PanicError, got %v", failed[0].Err)
	}
}

func TestPublishHandlerTimeout(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{HandlerTimeout: 20 * time.Millisecond})

	r.Register("e", "stuck", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}), WithMaxRetries(0))

	start := time.Now()
	result, err := d.Publish(context.Background(), "e", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not bound the stuck handler")
	}
	if result[0].Outcome != Failure {
		t.Error("stuck handler must settle as failure")
	}
}

func TestPublishReentrant(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var downstream atomic.Bool
	r.Register("order.placed", "inventory", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		_, err := d.PublishEnvelope(ctx, NewFromParent(env, "inventory.reserved", nil))
		return err
	}))
	r.Register("inventory.reserved", "warehouse", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		downstream.Store(true)
		if env.CausationID() == "" {
			t.Error("nested envelope missing causation")
		}
		return nil
	}))

	result, err := d.Publish(context.Background(), "order.placed", nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.Ok() {
		t.Fatalf("unexpected failures: %+v", result.Failed())
	}
	if !downstream.Load() {
		t.Error("nested publish did not reach downstream handler")
	}
}

func TestPublishDepthGuard(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{MaxDepth: 3})

	var depth atomic.Int64
	r.Register("loop", "recurse", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		depth.Add(1)
		result, err := d.PublishEnvelope(ctx, NewFromParent(env, "loop", nil))
		if err != nil {
			return err
		}
		// Propagate nested failures so the cut-off is visible at the root.
		if failed := result.Failed(); len(failed) > 0 {
			return failed[0].Err
		}
		return nil
	}), WithMaxRetries(0))

	result, err := d.Publish(context.Background(), "loop", nil)
	if err != nil {
		t.Fatalf("outermost publish should settle, not error: %v", err)
	}
	// The chain is cut at MaxDepth; the innermost publish returns an error
	// which fails its delivery.
	if depth.Load() != 3 {
		t.Errorf("expected 3 dispatch levels, got %d", depth.Load())
	}
	if result.Ok() {
		t.Error("expected the cut-off chain to surface as a failed delivery")
	}
}

func TestPublishReentrantBypassesSemaphore(t *testing.T) {
	// One concurrency slot; a nested publish from the slot holder must not
	// deadlock.
	d, r := newTestDispatcher(DispatcherConfig{MaxConcurrent: 1})

	var nested atomic.Bool
	r.Register("outer", "holder", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		_, err := d.PublishEnvelope(ctx, NewFromParent(env, "inner", nil))
		return err
	}))
	r.Register("inner", "nested", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		nested.Store(true)
		return nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Publish(context.Background(), "outer", nil)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested publish deadlocked on the concurrency limit")
	}
	if !nested.Load() {
		t.Error("nested handler did not run")
	}
}

func TestPublishMaxConcurrent(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{MaxConcurrent: 2})

	var inFlight, peak atomic.Int64
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		r.Register("e", id, HandlerFunc(func(ctx context.Context, env *Envelope) error {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}))
	}

	if _, err := d.Publish(context.Background(), "e", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency limit exceeded: peak %d", peak.Load())
	}
}

func TestPublishDeadLetter(t *testing.T) {
	dlq := NewDeadLetterQueue(DeadLetterConfig{MaxSize: 10})
	d, r := newTestDispatcher(DispatcherConfig{DLQ: dlq})

	r.Register("e", "broken", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		return errors.New("boom")
	}), WithMaxRetries(1), WithRetryBackoff(time.Millisecond))

	d.Publish(context.Background(), "e", "payload")

	if dlq.Len() != 1 {
		t.Fatalf("expected 1 dead letter, got %d", dlq.Len())
	}
	failed := dlq.Drain(0)
	if failed[0].HandlerID != "broken" || failed[0].Attempts != 2 {
		t.Errorf("unexpected dead letter: %+v", failed[0])
	}
}

func TestGoAndClose(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var delivered atomic.Int64
	r.Register("e", "slow", HandlerFunc(func(ctx context.Context, env *Envelope) error {
		time.Sleep(20 * time.Millisecond)
		delivered.Add(1)
		return nil
	}))

	ch := d.Go(context.Background(), "e", nil)
	d.Go(context.Background(), "e", nil)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if delivered.Load() != 2 {
		t.Errorf("close must drain async publishes, delivered %d", delivered.Load())
	}

	result := <-ch
	if !result.Ok() {
		t.Errorf("unexpected async result: %+v", result)
	}

	// Publishing after close is rejected.
	if _, err := d.Publish(context.Background(), "e", nil); err == nil {
		t.Error("expected error publishing on closed dispatcher")
	}
}

func TestDispatcherMiddleware(t *testing.T) {
	d, r := newTestDispatcher(DispatcherConfig{})

	var logged atomic.Int64
	d.Use(LoggingMiddleware(func(eventName string, duration time.Duration, err error) {
		logged.Add(1)
	}))

	r.Register("e", "a", HandlerFunc(func(ctx context.Context, env *Envelope) error { return nil }))
	r.Register("e", "b", HandlerFunc(func(ctx context.Context, env *Envelope) error { return nil }))

	d.Publish(context.Background(), "e", nil)
	if logged.Load() != 2 {
		t.Errorf("expected middleware on every invocation, got %d", logged.Load())
	}
}

func TestDispatchResultHelpers(t *testing.T) {
	ok := DispatchResult{{HandlerID: "a", Outcome: Success}}
	if !ok.Ok() || len(ok.Failed()) != 0 {
		t.Error("all-success result misreported")
	}

	mixed := DispatchResult{
		{HandlerID: "a", Outcome: Success},
		{HandlerID: "b", Outcome: Failure, Err: errors.New("boom")},
	}
	if mixed.Ok() {
		t.Error("mixed result reported ok")
	}
	if failed := mixed.Failed(); len(failed) != 1 || failed[0].HandlerID != "b" {
		t.Errorf("unexpected failed set: %+v", mixed.Failed())
	}
}
