package event

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func failedDeliveryFixture(id string) *FailedDelivery {
	env := NewEnvelope("order.placed", "payload", WithID(id))
	return newFailedDelivery(env, "inventory", errors.New("boom"), 3)
}

func TestDeadLetterQueueEnqueueDrain(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{MaxSize: 10})

	for i := range 3 {
		q.Enqueue(context.Background(), failedDeliveryFixture(fmt.Sprintf("evt-%d", i)))
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}

	// Partial drain preserves arrival order.
	out := q.Drain(2)
	if len(out) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(out))
	}
	if out[0].EventID != "evt-0" || out[1].EventID != "evt-1" {
		t.Errorf("drain order wrong: %s, %s", out[0].EventID, out[1].EventID)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", q.Len())
	}

	// Drain(0) empties the rest.
	out = q.Drain(0)
	if len(out) != 1 || q.Len() != 0 {
		t.Errorf("expected full drain, got %d drained %d left", len(out), q.Len())
	}
}

func TestDeadLetterQueueEviction(t *testing.T) {
	var evicted []*FailedDelivery
	q := NewDeadLetterQueue(DeadLetterConfig{
		MaxSize: 2,
		OnEvict: func(f *FailedDelivery) { evicted = append(evicted, f) },
	})

	for i := range 3 {
		q.Enqueue(context.Background(), failedDeliveryFixture(fmt.Sprintf("evt-%d", i)))
	}

	if q.Len() != 2 {
		t.Fatalf("expected size capped at 2, got %d", q.Len())
	}
	if len(evicted) != 1 || evicted[0].EventID != "evt-0" {
		t.Errorf("expected oldest evicted, got %+v", evicted)
	}

	stats := q.Stats()
	if stats.Enqueued != 3 || stats.Evicted != 1 || stats.Size != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDeadLetterQueueHooks(t *testing.T) {
	var enqueued int
	q := NewDeadLetterQueue(DeadLetterConfig{
		MaxSize:   5,
		OnEnqueue: func(*FailedDelivery) { enqueued++ },
	})

	q.Enqueue(context.Background(), failedDeliveryFixture("evt-1"))
	q.Enqueue(context.Background(), failedDeliveryFixture("evt-2"))
	if enqueued != 2 {
		t.Errorf("expected 2 enqueue hooks, got %d", enqueued)
	}
}

func TestNewFailedDelivery(t *testing.T) {
	env := NewEnvelope("order.placed", "payload", WithID("evt-1"))
	before := time.Now()
	failed := newFailedDelivery(env, "inventory", errors.New("boom"), 4)

	if failed.EventID != "evt-1" || failed.EventName != "order.placed" {
		t.Errorf("event identity not carried: %+v", failed)
	}
	if failed.HandlerID != "inventory" || failed.Attempts != 4 {
		t.Errorf("delivery identity not carried: %+v", failed)
	}
	if failed.Payload != "payload" {
		t.Errorf("payload not carried: %v", failed.Payload)
	}
	if failed.FailedAt.Before(before) {
		t.Error("FailedAt not stamped")
	}
}
