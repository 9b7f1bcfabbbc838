package history

import (
	"errors"
	"testing"
	"time"
)

func newSQLiteFixture(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreDeliveryRoundTrip(t *testing.T) {
	s := newSQLiteFixture(t)

	rec := DeliveryRecord{
		EventID:   "evt-1",
		EventName: "order.placed",
		HandlerID: "inventory",
		Success:   false,
		Error:     "db unavailable",
		Attempts:  3,
		Duration:  42 * time.Millisecond,
		SettledAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.AppendDelivery(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Deliveries("order.placed", 0)
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].EventID != rec.EventID || got[0].Error != rec.Error || got[0].Attempts != 3 {
		t.Errorf("record mismatch: %+v", got[0])
	}
	if got[0].Success {
		t.Error("success flag not preserved")
	}
	if got[0].Duration != rec.Duration {
		t.Errorf("duration mismatch: %v", got[0].Duration)
	}
	if !got[0].SettledAt.Equal(rec.SettledAt) {
		t.Errorf("settled_at mismatch: %v", got[0].SettledAt)
	}
}

func TestSQLiteStoreRunFilterAndLimit(t *testing.T) {
	s := newSQLiteFixture(t)

	for i := range 5 {
		if err := s.AppendRun(runFixture("sync", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s.AppendRun(runFixture("cleanup", 5))

	syncRuns, err := s.Runs("sync", 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(syncRuns) != 5 {
		t.Errorf("expected 5 sync runs, got %d", len(syncRuns))
	}

	limited, _ := s.Runs("", 2)
	if len(limited) != 2 {
		t.Errorf("expected limit of 2, got %d", len(limited))
	}

	unknown, _ := s.Runs("missing", 0)
	if len(unknown) != 0 {
		t.Errorf("expected no records for unknown job, got %d", len(unknown))
	}
}

func TestSQLiteStoreOrdering(t *testing.T) {
	s := newSQLiteFixture(t)

	for i := range 3 {
		s.AppendDelivery(deliveryFixture("e", i))
	}

	recs, _ := s.Deliveries("", 0)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// Newest last, matching the memory store.
	if recs[0].EventID != "evt-0" || recs[2].EventID != "evt-2" {
		t.Errorf("ordering wrong: %s ... %s", recs[0].EventID, recs[2].EventID)
	}

	// Limit keeps the newest.
	limited, _ := s.Deliveries("", 2)
	if limited[0].EventID != "evt-1" || limited[1].EventID != "evt-2" {
		t.Errorf("limited ordering wrong: %+v", limited)
	}
}

func TestSQLiteStoreClosed(t *testing.T) {
	s := newSQLiteFixture(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Idempotent close.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := s.AppendRun(runFixture("sync", 0)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.Deliveries("", 0); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
