package core

import (
	"encoding/json"
	"fmt"
)

// Message is one entry in a conversation history. The set of variants is
// closed: SystemMessage, UserMessage, AssistantMessage and ToolResultMessage.
// The unexported marker method keeps external packages from adding variants,
// so switches over Message stay exhaustive.
type Message interface {
	isMessage()
	// Role reports the wire role of the variant ("system", "user",
	// "assistant", "tool").
	Role() string
}

// SystemMessage carries instructions that frame the conversation.
type SystemMessage struct {
	Text string `json:"text"`
}

// UserMessage is input attributed to the end user (or a delegating agent).
type UserMessage struct {
	Text string `json:"text"`
}

// AssistantMessage is model output: free text, requested tool calls, or both.
type AssistantMessage struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolResultMessage is the outcome of a single tool call, keyed back to the
// assistant call that requested it.
type ToolResultMessage struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolCall identifies one tool invocation requested by the model. Arguments
// is the raw JSON object string as produced by the provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (SystemMessage) isMessage()     {}
func (UserMessage) isMessage()       {}
func (AssistantMessage) isMessage()  {}
func (ToolResultMessage) isMessage() {}

func (SystemMessage) Role() string     { return "system" }
func (UserMessage) Role() string       { return "user" }
func (AssistantMessage) Role() string  { return "assistant" }
func (ToolResultMessage) Role() string { return "tool" }

// TextOf returns the printable text of a message. Tool results yield their
// content, assistant messages their text (which may be empty when the turn
// was tool calls only).
func TextOf(m Message) string {
	switch v := m.(type) {
	case SystemMessage:
		return v.Text
	case UserMessage:
		return v.Text
	case AssistantMessage:
		return v.Text
	case ToolResultMessage:
		return v.Content
	default:
		return ""
	}
}

// SanitizeHistory returns a copy of msgs safe to hand to a model provider.
// Tool results whose call id has no preceding assistant tool call (a history
// truncated mid tool round-trip, or seeded from another thread) would be
// rejected by provider APIs, so they are rewritten into system notes that
// preserve the information without the pairing requirement.
func SanitizeHistory(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	seen := map[string]bool{}
	for _, m := range msgs {
		switch v := m.(type) {
		case AssistantMessage:
			for _, tc := range v.ToolCalls {
				seen[tc.ID] = true
			}
			out = append(out, v)
		case ToolResultMessage:
			if v.CallID != "" && seen[v.CallID] {
				out = append(out, v)
				continue
			}
			out = append(out, SystemMessage{
				Text: fmt.Sprintf("Note: earlier result from tool %q: %s", v.Name, v.Content),
			})
		default:
			out = append(out, m)
		}
	}
	return out
}

// messageEnvelope is the serialized form of a Message variant. A type tag
// keeps decoding unambiguous across the closed set.
type messageEnvelope struct {
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CallID    string     `json:"call_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Content   string     `json:"content,omitempty"`
	IsError   bool       `json:"is_error,omitempty"`
}

// MarshalMessages encodes a history for checkpoint storage.
func MarshalMessages(msgs []Message) ([]byte, error) {
	envs := make([]messageEnvelope, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case SystemMessage:
			envs = append(envs, messageEnvelope{Type: "system", Text: v.Text})
		case UserMessage:
			envs = append(envs, messageEnvelope{Type: "user", Text: v.Text})
		case AssistantMessage:
			envs = append(envs, messageEnvelope{Type: "assistant", Text: v.Text, ToolCalls: v.ToolCalls})
		case ToolResultMessage:
			envs = append(envs, messageEnvelope{
				Type: "tool_result", CallID: v.CallID, Name: v.Name,
				Content: v.Content, IsError: v.IsError,
			})
		default:
			return nil, fmt.Errorf("unknown message variant %T", m)
		}
	}
	return json.Marshal(envs)
}

// UnmarshalMessages decodes a history previously written by MarshalMessages.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var envs []messageEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]Message, 0, len(envs))
	for _, e := range envs {
		switch e.Type {
		case "system":
			msgs = append(msgs, SystemMessage{Text: e.Text})
		case "user":
			msgs = append(msgs, UserMessage{Text: e.Text})
		case "assistant":
			msgs = append(msgs, AssistantMessage{Text: e.Text, ToolCalls: e.ToolCalls})
		case "tool_result":
			msgs = append(msgs, ToolResultMessage{
				CallID: e.CallID, Name: e.Name, Content: e.Content, IsError: e.IsError,
			})
		default:
			return nil, fmt.Errorf("unknown message type %q", e.Type)
		}
	}
	return msgs, nil
}
