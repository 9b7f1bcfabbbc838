package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists delivery and run records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite history store.
// The path should be a file path (e.g., "./history.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			event_name TEXT NOT NULL,
			handler_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			settled_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create deliveries table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deliveries_event_name
		ON deliveries(event_name)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create deliveries index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job TEXT NOT NULL,
			scheduled_at TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_runs_job
		ON runs(job)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// AppendDelivery implements Store.
func (s *SQLiteStore) AppendDelivery(rec DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO deliveries (event_id, event_name, handler_id, success, error, attempts, duration_ns, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.EventName, rec.HandlerID, boolToInt(rec.Success), rec.Error,
		rec.Attempts, rec.Duration.Nanoseconds(), rec.SettledAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

// AppendRun implements Store.
func (s *SQLiteStore) AppendRun(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (job, scheduled_at, started_at, finished_at, success, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Job, rec.ScheduledAt.UTC().Format(time.RFC3339Nano),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(rec.Success), rec.Error, rec.Duration.Nanoseconds())

	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// Deliveries implements Store.
func (s *SQLiteStore) Deliveries(eventName string, limit int) ([]DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT event_id, event_name, handler_id, success, error, attempts, duration_ns, settled_at
		FROM deliveries
	`
	args := []any{}
	if eventName != "" {
		query += " WHERE event_name = ?"
		args = append(args, eventName)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var success int
		var durationNS int64
		var settledAt string
		if err := rows.Scan(&rec.EventID, &rec.EventName, &rec.HandlerID, &success,
			&rec.Error, &rec.Attempts, &durationNS, &settledAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.Success = success != 0
		rec.Duration = time.Duration(durationNS)
		rec.SettledAt, _ = time.Parse(time.RFC3339Nano, settledAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	reverseDeliveries(out)
	return out, nil
}

// Runs implements Store.
func (s *SQLiteStore) Runs(job string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT job, scheduled_at, started_at, finished_at, success, error, duration_ns
		FROM runs
	`
	args := []any{}
	if job != "" {
		query += " WHERE job = ?"
		args = append(args, job)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var success int
		var durationNS int64
		var scheduledAt, startedAt, finishedAt string
		if err := rows.Scan(&rec.Job, &scheduledAt, &startedAt, &finishedAt,
			&success, &rec.Error, &durationNS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Success = success != 0
		rec.Duration = time.Duration(durationNS)
		rec.ScheduledAt, _ = time.Parse(time.RFC3339Nano, scheduledAt)
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	reverseRuns(out)
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Rows come back newest-first; callers get newest-last like MemoryStore.
func reverseDeliveries(recs []DeliveryRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

func reverseRuns(recs []RunRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
