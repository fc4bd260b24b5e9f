package interrupt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists interrupts to SQLite so approval can happen in a
// different process than the paused execution (serverless handlers, admin
// CLIs).
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite interrupt store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS interrupts (
			execution_id TEXT PRIMARY KEY,
			record TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, in Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode interrupt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO interrupts (execution_id, record) VALUES (?, ?)
	`, in.ExecutionID, string(record))
	if err != nil {
		return fmt.Errorf("save interrupt: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, executionID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.get(ctx, executionID)
}

func (s *SQLiteStore) get(ctx context.Context, executionID string) (*Interrupt, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM interrupts WHERE execution_id = ?
	`, executionID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load interrupt: %w", err)
	}
	var in Interrupt
	if err := json.Unmarshal([]byte(record), &in); err != nil {
		return nil, fmt.Errorf("decode interrupt: %w", err)
	}
	return &in, nil
}

// Resolve implements Store.
func (s *SQLiteStore) Resolve(ctx context.Context, executionID string, resp Response) (*Interrupt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	in, err := s.get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	in.Status = resp.Status
	in.ResolvedAt = time.Now().UTC()
	r := resp
	in.Response = &r

	record, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode interrupt: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE interrupts SET record = ? WHERE execution_id = ?
	`, string(record), executionID); err != nil {
		return nil, fmt.Errorf("update interrupt: %w", err)
	}
	return in, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM interrupts WHERE execution_id = ?
	`, executionID)
	if err != nil {
		return false, fmt.Errorf("delete interrupt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete interrupt: %w", err)
	}
	return affected > 0, nil
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
