package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgrid/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by graph nodes.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt for the model
	Messages     []core.Message   `json:"messages"`     // Conversation converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	MaxTokens    int64            `json:"max_tokens,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming provider.
// Partial chunks carry a text delta; the final chunk carries the complete
// text plus any tool calls.
type Response struct {
	Partial      bool            `json:"partial"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal interface the engine needs to drive generation.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the provider implementation.
	Info() Info
}

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Canned responses are keyed by the text of the last message;
// RespondWith installs a function for full control over scripted turns.
type MockProvider struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	respondFn func(req Request) Response
	failures  []error
}

// NewMockProvider constructs a MockProvider with basic tool support enabled.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input text.
func (m *MockProvider) AddResponse(input, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = response
}

// RespondWith installs a response function evaluated per request. It takes
// precedence over canned responses.
func (m *MockProvider) RespondWith(fn func(req Request) Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respondFn = fn
}

// FailWith queues errors returned by subsequent Generate calls before any
// canned response is considered. Used to exercise retry paths.
func (m *MockProvider) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *MockProvider) nextFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *MockProvider) respond(req Request) Response {
	m.mu.Lock()
	fn := m.respondFn
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	var inputText string
	if len(req.Messages) > 0 {
		inputText = core.TextOf(req.Messages[len(req.Messages)-1])
	}
	m.mu.Lock()
	full := m.responses[inputText]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}
	return Response{Text: full, FinishReason: "stop", Usage: &TokenUsage{TotalTokens: len(full)}}
}

// Generate implements Provider; emits optional streaming char chunks then the
// final response.
func (m *MockProvider) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err := m.nextFailure(); err != nil {
			errCh <- err
			return
		}
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		final := m.respond(req)
		final.Partial = false
		if final.FinishReason == "" {
			final.FinishReason = "stop"
		}

		if req.Stream {
			for _, r := range final.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- final
	}()
	return respCh, errCh
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
