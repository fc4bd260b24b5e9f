// Package checkpoint persists graph state snapshots so executions can resume
// across process boundaries. Tuples are keyed by (thread id, namespace) and
// ordered by a per-key sequence; the empty checkpoint id addresses the latest
// tuple.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no tuple exists for the requested key.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Checkpoint is one immutable state snapshot.
type Checkpoint struct {
	// Version is the snapshot format version, for forward compatibility.
	Version int `json:"version"`
	// ID uniquely identifies the snapshot within its thread/namespace.
	ID string `json:"id"`
	// Timestamp is when the snapshot was taken (UTC).
	Timestamp time.Time `json:"timestamp"`
	// State is the serialized graph state.
	State json.RawMessage `json:"state"`
	// Counters tracks per-channel version counters (node execution counts).
	Counters map[string]int `json:"counters,omitempty"`
}

// Metadata describes how a checkpoint came to be.
type Metadata struct {
	// Source is the writer ("run" for normal progress, "interrupt" when a
	// node paused).
	Source string `json:"source"`
	// Node is the next node to execute when resuming from this tuple.
	Node string `json:"node"`
	// Step is the run-loop iteration that produced the snapshot.
	Step int `json:"step"`
}

// Tuple pairs a checkpoint with its key and metadata.
type Tuple struct {
	ThreadID   string     `json:"thread_id"`
	Namespace  string     `json:"namespace"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Metadata   Metadata   `json:"metadata"`
}

// ListOptions page through checkpoint history, newest first.
type ListOptions struct {
	// Before restricts results to tuples older than the given checkpoint id.
	Before string
	// Limit caps the number of results; zero means no cap.
	Limit int
}

// Store is the persistence contract for checkpoints. Implementations must be
// safe for concurrent use.
type Store interface {
	// PutTuple saves a checkpoint under (threadID, namespace).
	PutTuple(ctx context.Context, threadID, namespace string, cp Checkpoint, md Metadata) error

	// GetTuple returns the tuple with the given checkpoint id, or the
	// latest tuple for the key when checkpointID is empty. Returns
	// ErrNotFound when nothing matches.
	GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (*Tuple, error)

	// List returns tuples for the key, newest first.
	List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]Tuple, error)

	// Close releases resources. The store rejects calls afterwards.
	Close() error
}
