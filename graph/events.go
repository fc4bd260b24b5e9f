package graph

// EventType discriminates stream events emitted by a running graph.
type EventType string

const (
	// EventToken is an incremental model output delta.
	EventToken EventType = "token"
	// EventNode marks a node entering or completing.
	EventNode EventType = "node"
	// EventState is a full state snapshot taken after a node completed.
	EventState EventType = "state"
	// EventInterrupt signals that a node paused the run awaiting approval.
	// The run loop has already checkpointed; the stream ends after this
	// event and the execution resumes via a fresh Stream call.
	EventInterrupt EventType = "interrupt"
)

// NodePhase qualifies EventNode events.
type NodePhase string

const (
	PhaseEntered   NodePhase = "entered"
	PhaseCompleted NodePhase = "completed"
)

// Event is one item on a graph's event stream. Only the fields relevant to
// its Type are populated.
type Event struct {
	Type EventType

	// Token delta (EventToken).
	Token string

	// Node name and phase (EventNode).
	Node  string
	Phase NodePhase

	// State snapshot (EventState).
	State *State

	// Interrupt payload as raised by the node (EventInterrupt). May be
	// the bare action descriptor or an envelope wrapping it under
	// "value"; the engine normalizes both shapes.
	Interrupt map[string]any
}
