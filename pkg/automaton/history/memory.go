package history

import (
	"sync"
)

// DefaultRetention is the per-kind record cap for MemoryStore.
const DefaultRetention = 1000

// MemoryStore keeps records in bounded in-memory rings.
// When a ring is full the oldest record is dropped.
// It is suitable for tests and single-process diagnostics.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries []DeliveryRecord
	runs       []RunRecord
	retention  int
	closed     bool
}

// NewMemoryStore creates an in-memory store retaining up to retention records
// of each kind. A retention <= 0 uses DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{retention: retention}
}

// AppendDelivery implements Store.
func (s *MemoryStore) AppendDelivery(rec DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.deliveries = append(s.deliveries, rec)
	if len(s.deliveries) > s.retention {
		s.deliveries = s.deliveries[len(s.deliveries)-s.retention:]
	}
	return nil
}

// AppendRun implements Store.
func (s *MemoryStore) AppendRun(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.runs = append(s.runs, rec)
	if len(s.runs) > s.retention {
		s.runs = s.runs[len(s.runs)-s.retention:]
	}
	return nil
}

// Deliveries implements Store.
func (s *MemoryStore) Deliveries(eventName string, limit int) ([]DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []DeliveryRecord
	for _, rec := range s.deliveries {
		if eventName == "" || rec.EventName == eventName {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Runs implements Store.
func (s *MemoryStore) Runs(job string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []RunRecord
	for _, rec := range s.runs {
		if job == "" || rec.Job == job {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.deliveries = nil
	s.runs = nil
	return nil
}
