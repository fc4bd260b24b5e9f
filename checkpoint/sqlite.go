package checkpoint

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

// SQLiteStore persists checkpoint tuples to SQLite, making executions
// resumable across process boundaries. Suitable for single-process
// production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store. The path should be a
// file path (e.g., "./checkpoints.db") or ":memory:" for testing.
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
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			version INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			state BLOB NOT NULL,
			counters TEXT NOT NULL,
			md_source TEXT NOT NULL,
			md_node TEXT NOT NULL,
			md_step INTEGER NOT NULL,
			PRIMARY KEY (thread_id, namespace, checkpoint_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_checkpoints_key
		ON checkpoints(thread_id, namespace, sequence)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// PutTuple implements Store.
func (s *SQLiteStore) PutTuple(ctx context.Context, threadID, namespace string, cp Checkpoint, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	counters, err := json.Marshal(cp.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(thread_id, namespace, checkpoint_id, sequence, version, timestamp, state, counters, md_source, md_node, md_step)
		VALUES (
			?, ?, ?,
			COALESCE((SELECT MAX(sequence) FROM checkpoints WHERE thread_id = ? AND namespace = ?), 0) + 1,
			?, ?, ?, ?, ?, ?, ?
		)
	`, threadID, namespace, cp.ID, threadID, namespace,
		cp.Version, cp.Timestamp.UTC().Format(time.RFC3339Nano), []byte(cp.State), string(counters),
		md.Source, md.Node, md.Step)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// GetTuple implements Store.
func (s *SQLiteStore) GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (*Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT checkpoint_id, version, timestamp, state, counters, md_source, md_node, md_step
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
	`
	args := []any{threadID, namespace}
	if checkpointID != "" {
		query += " AND checkpoint_id = ?"
		args = append(args, checkpointID)
	}
	query += " ORDER BY sequence DESC LIMIT 1"

	tuple, err := scanTuple(s.db.QueryRowContext(ctx, query, args...), threadID, namespace)
	if err != nil {
		return nil, err
	}
	return tuple, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT checkpoint_id, version, timestamp, state, counters, md_source, md_node, md_step
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
	`
	args := []any{threadID, namespace}
	if opts.Before != "" {
		query += ` AND sequence < (
			SELECT sequence FROM checkpoints
			WHERE thread_id = ? AND namespace = ? AND checkpoint_id = ?
		)`
		args = append(args, threadID, namespace, opts.Before)
	}
	query += " ORDER BY sequence DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var tuples []Tuple
	for rows.Next() {
		tuple, err := scanTuple(rows, threadID, namespace)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, *tuple)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return tuples, nil
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTuple(row rowScanner, threadID, namespace string) (*Tuple, error) {
	var (
		tuple     Tuple
		timestamp string
		state     []byte
		counters  string
	)
	err := row.Scan(&tuple.Checkpoint.ID, &tuple.Checkpoint.Version, &timestamp, &state, &counters,
		&tuple.Metadata.Source, &tuple.Metadata.Node, &tuple.Metadata.Step)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	tuple.ThreadID = threadID
	tuple.Namespace = namespace
	tuple.Checkpoint.State = json.RawMessage(state)
	tuple.Checkpoint.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	if counters != "" && counters != "null" {
		if err := json.Unmarshal([]byte(counters), &tuple.Checkpoint.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
	}
	return &tuple, nil
}
