// Package graph provides the execution graph: a builder for node/edge
// topologies, compilation into an immutable runnable form, a streaming run
// loop with per-node checkpointing, and interrupt/resume support. It also
// compiles the standard agent loop (model node + tools node) from an agent
// configuration.
//
// Approval is batch-scoped: when a model turn requests several gated tool
// calls, the first one is surfaced for a decision and that single decision
// settles the whole turn. Approve runs every gated call, reject settles every
// gated call as a refusal without running it, and an edit replaces the
// arguments of the surfaced call only.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgrid/core"
)

// State is the value threaded through graph nodes. Nodes receive a copy,
// return the updated value, and the run loop snapshots it into checkpoints
// after every node.
type State struct {
	// Messages is the full conversation, including seeded history.
	Messages []core.Message

	// HistoryLen counts the leading messages that predate this execution
	// (seeded history plus the triggering user input). Result extraction
	// only considers messages past this point.
	HistoryLen int

	// PendingCalls are tool calls requested by the model and not yet
	// executed.
	PendingCalls []core.ToolCall

	// Resume carries the human decision when re-running an interrupted
	// node. Consumed (cleared) by the node that raised the interrupt.
	Resume *ResumeValue

	// Turns counts completed model turns.
	Turns int

	// Metrics accumulates usage across the run.
	Metrics core.Metrics
}

// ResumeValue is the approval decision injected when resuming.
type ResumeValue struct {
	// Decision is "approved", "rejected" or "edited".
	Decision string `json:"decision"`
	// EditedArgs replaces the proposed tool arguments when edited.
	EditedArgs map[string]any `json:"edited_args,omitempty"`
	// Note is the approver's comment, surfaced to the model on rejection.
	Note string `json:"note,omitempty"`
}

// Clone returns a deep enough copy for snapshot events: slices are copied so
// later node mutations do not leak into emitted snapshots.
func (s State) Clone() State {
	out := s
	out.Messages = make([]core.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.PendingCalls = make([]core.ToolCall, len(s.PendingCalls))
	copy(out.PendingCalls, s.PendingCalls)
	if s.Resume != nil {
		r := *s.Resume
		out.Resume = &r
	}
	return out
}

// LastAssistantText returns the text of the most recent assistant message
// produced during this execution, or "" when none exists.
func (s State) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= s.HistoryLen && i >= 0; i-- {
		if am, ok := s.Messages[i].(core.AssistantMessage); ok && am.Text != "" {
			return am.Text
		}
	}
	return ""
}

// stateJSON is the serialized checkpoint form of State. Messages need the
// tagged envelope encoding because Message is an interface.
type stateJSON struct {
	Messages     json.RawMessage `json:"messages"`
	HistoryLen   int             `json:"history_len"`
	PendingCalls []core.ToolCall `json:"pending_calls,omitempty"`
	Resume       *ResumeValue    `json:"resume,omitempty"`
	Turns        int             `json:"turns"`
	Metrics      core.Metrics    `json:"metrics"`
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	msgs, err := core.MarshalMessages(s.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return json.Marshal(stateJSON{
		Messages:     msgs,
		HistoryLen:   s.HistoryLen,
		PendingCalls: s.PendingCalls,
		Resume:       s.Resume,
		Turns:        s.Turns,
		Metrics:      s.Metrics,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	msgs, err := core.UnmarshalMessages(raw.Messages)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	s.Messages = msgs
	s.HistoryLen = raw.HistoryLen
	s.PendingCalls = raw.PendingCalls
	s.Resume = raw.Resume
	s.Turns = raw.Turns
	s.Metrics = raw.Metrics
	return nil
}
