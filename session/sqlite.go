package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/hupe1980/agentgrid/core"
)

// SQLiteStore persists thread histories to SQLite so conversations survive
// process restarts.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore creates a new SQLite session store.
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
		CREATE TABLE IF NOT EXISTS sessions (
			thread_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.history(ctx, threadID)
}

func (s *SQLiteStore) history(ctx context.Context, threadID string) ([]core.Message, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `
		SELECT messages FROM sessions WHERE thread_id = ?
	`, threadID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	msgs, err := core.UnmarshalMessages([]byte(record))
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return msgs, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, msgs ...core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	existing, err := s.history(ctx, threadID)
	if err != nil {
		return err
	}
	record, err := core.MarshalMessages(append(existing, msgs...))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (thread_id, messages) VALUES (?, ?)
	`, threadID, string(record)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE thread_id = ?
	`, threadID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
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
