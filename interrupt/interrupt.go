// Package interrupt persists pause points where an execution waits for a
// human decision. The store is the only coordination channel between the
// paused engine and whoever approves: the engine polls it, so approval can
// arrive from another process entirely.
//
// An execution has at most one interrupt at a time. Storing a second pending
// interrupt for the same execution overwrites the first; the engine never
// raises a new one before the previous is resolved, so an overwrite only
// happens after a crash-and-rerun, where the stale record is the wrong one
// to keep.
package interrupt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no interrupt exists for the execution.
	ErrNotFound = errors.New("interrupt not found")
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("interrupt store closed")
)

// Status is the resolution state of an interrupt.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusEdited   Status = "edited"
)

// Resolved reports whether the interrupt has received a decision.
func (s Status) Resolved() bool { return s != StatusPending && s != "" }

// ActionRequest describes the action awaiting approval.
type ActionRequest struct {
	// Action is the tool or operation name.
	Action string `json:"action"`
	// Args are the proposed arguments.
	Args map[string]any `json:"args,omitempty"`
}

// Response is the human decision attached to an interrupt.
type Response struct {
	Status Status `json:"status"`
	// EditedArgs replaces the proposed args when Status is StatusEdited.
	EditedArgs map[string]any `json:"edited_args,omitempty"`
	// Note is an optional free-form comment from the approver.
	Note string `json:"note,omitempty"`
}

// Interrupt is one persisted pause point.
type Interrupt struct {
	ExecutionID string        `json:"execution_id"`
	ThreadID    string        `json:"thread_id"`
	AgentID     string        `json:"agent_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Request     ActionRequest `json:"request"`
	Description string        `json:"description,omitempty"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  time.Time     `json:"resolved_at,omitzero"`
	Response    *Response     `json:"response,omitempty"`
}

// Store persists interrupts. Implementations must be safe for concurrent use
// and visible across goroutines immediately after a write returns, since the
// engine polls for resolution.
type Store interface {
	// Put saves a pending interrupt, overwriting any existing record for
	// the same execution.
	Put(ctx context.Context, in Interrupt) error

	// Get returns the interrupt for an execution, or ErrNotFound.
	Get(ctx context.Context, executionID string) (*Interrupt, error)

	// Resolve attaches a decision to the pending interrupt and returns the
	// updated record. Resolving an already resolved interrupt overwrites
	// the previous decision.
	Resolve(ctx context.Context, executionID string, resp Response) (*Interrupt, error)

	// Clear removes the interrupt. It reports whether a record existed;
	// clearing an absent execution is not an error.
	Clear(ctx context.Context, executionID string) (bool, error)

	// Close releases resources.
	Close() error
}
