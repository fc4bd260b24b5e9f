// Package session persists conversation threads so follow-up executions on
// the same thread see the earlier exchange. The orchestrator seeds new
// executions with the stored history and appends the messages each execution
// produced.
package session

import (
	"context"
	"errors"

	"github.com/hupe1980/agentgrid/core"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("session store closed")

// Store persists per-thread message history. Implementations must be safe
// for concurrent use.
type Store interface {
	// History returns the messages recorded for the thread, oldest first.
	// Unknown threads yield an empty history, not an error.
	History(ctx context.Context, threadID string) ([]core.Message, error)

	// Append adds messages to the thread's history.
	Append(ctx context.Context, threadID string, msgs ...core.Message) error

	// Delete removes a thread. It reports whether the thread existed.
	Delete(ctx context.Context, threadID string) (bool, error)

	// Close releases resources.
	Close() error
}
