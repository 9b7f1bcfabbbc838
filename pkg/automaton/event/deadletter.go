package event

import (
	"context"
	"sync"
)

// DeadLetterConfig configures the in-memory dead letter queue.
type DeadLetterConfig struct {
	// MaxSize limits queued failures. Default: 10000. When full, the oldest
	// entry is evicted to make room (the queue is an observability surface,
	// not a durability guarantee).
	MaxSize int

	// OnEnqueue is called when a failure is added.
	OnEnqueue func(*FailedDelivery)

	// OnEvict is called when a failure is dropped to make room.
	OnEvict func(*FailedDelivery)
}

// DefaultDeadLetterConfig provides reasonable defaults.
var DefaultDeadLetterConfig = DeadLetterConfig{
	MaxSize: 10000,
}

// DeadLetterQueue is an in-memory store of deliveries that exhausted their
// retries. Suitable for single-process deployments; durable redelivery
// across restarts is out of scope for the in-memory core.
type DeadLetterQueue struct {
	mu    sync.Mutex
	cfg   DeadLetterConfig
	items []*FailedDelivery

	enqueued int64
	evicted  int64
	drained  int64
}

// Compile-time interface check.
var _ DeadLetter = (*DeadLetterQueue)(nil)

// NewDeadLetterQueue creates an in-memory dead letter queue.
func NewDeadLetterQueue(cfg DeadLetterConfig) *DeadLetterQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDeadLetterConfig.MaxSize
	}
	return &DeadLetterQueue{cfg: cfg}
}

// Enqueue implements DeadLetter.
func (q *DeadLetterQueue) Enqueue(_ context.Context, failed *FailedDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cfg.MaxSize {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.evicted++
		if q.cfg.OnEvict != nil {
			q.cfg.OnEvict(evicted)
		}
	}

	q.items = append(q.items, failed)
	q.enqueued++
	if q.cfg.OnEnqueue != nil {
		q.cfg.OnEnqueue(failed)
	}
	return nil
}

// Drain removes and returns up to limit failures in arrival order.
// limit <= 0 drains everything.
func (q *DeadLetterQueue) Drain(limit int) []*FailedDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]*FailedDelivery, limit)
	copy(out, q.items[:limit])
	q.items = q.items[limit:]
	q.drained += int64(limit)
	return out
}

// Len returns the number of queued failures.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue counters.
func (q *DeadLetterQueue) Stats() DeadLetterStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return DeadLetterStats{
		Size:     len(q.items),
		Enqueued: q.enqueued,
		Evicted:  q.evicted,
		Drained:  q.drained,
	}
}

// DeadLetterStats provides statistics about the queue.
type DeadLetterStats struct {
	Size     int   // current size
	Enqueued int64 // total failures enqueued
	Evicted  int64 // total failures dropped for space
	Drained  int64 // total failures handed to Drain callers
}
