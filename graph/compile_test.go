package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/model"
	"github.com/hupe1980/agentgrid/tool"
)

// captureRecorder collects recorded metrics for assertions.
type captureRecorder struct {
	mu          sync.Mutex
	modelTokens []int64
	toolNames   []string
	toolErrors  []bool
}

func (r *captureRecorder) RecordExecution(context.Context, string, string, time.Duration) {}

func (r *captureRecorder) RecordModelCall(_ context.Context, _ string, tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelTokens = append(r.modelTokens, tokens)
}

func (r *captureRecorder) RecordToolCall(_ context.Context, name string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolNames = append(r.toolNames, name)
	r.toolErrors = append(r.toolErrors, err != nil)
}

func (r *captureRecorder) RecordDelegation(context.Context, string, string, bool) {}

func (r *captureRecorder) RecordInterrupt(context.Context, string, string, time.Duration) {}

// scriptedProvider answers with a tool call until a tool result arrives, then
// finishes with the given answer.
func scriptedProvider(call core.ToolCall, answer string) *model.MockProvider {
	p := model.NewMockProvider("scripted")
	p.RespondWith(func(req model.Request) model.Response {
		if len(req.Messages) > 0 {
			if _, ok := req.Messages[len(req.Messages)-1].(core.ToolResultMessage); ok {
				return model.Response{
					Text:         answer,
					FinishReason: "stop",
					Usage:        &model.TokenUsage{TotalTokens: 7},
				}
			}
		}
		return model.Response{
			ToolCalls:    []core.ToolCall{call},
			FinishReason: "tool_calls",
			Usage:        &model.TokenUsage{TotalTokens: 5},
		}
	})
	return p
}

func echoRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	echo := tool.NewFunctionTool(
		"echo",
		"Echoes the text argument back.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("echo: %v", args["text"]), nil
		},
	)
	require.NoError(t, reg.Register(echo))
	return reg
}

func userState(text string) State {
	return State{
		Messages:   []core.Message{core.UserMessage{Text: text}},
		HistoryLen: 1,
	}
}

func TestAgentLoopToolRoundTrip(t *testing.T) {
	reg := echoRegistry(t)
	provider := scriptedProvider(
		core.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"text":"hi"}`},
		"the echo said hi",
	)

	g, err := Compile(CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1", SystemPrompt: "You echo things."},
		Provider: provider,
		Runtime:  reg,
		ToolDefs: reg.Definitions([]string{"echo"}),
	})
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", userState("say hi"))
	got, err := drain(events, errCh)
	require.NoError(t, err)

	var tokens strings.Builder
	var finalState *State
	for _, ev := range got {
		switch ev.Type {
		case EventToken:
			tokens.WriteString(ev.Token)
		case EventState:
			finalState = ev.State
		}
	}

	require.NotNil(t, finalState)
	assert.Equal(t, "the echo said hi", finalState.LastAssistantText())
	assert.Equal(t, "the echo said hi", tokens.String())

	// user, assistant(tool call), tool result, assistant(answer)
	require.Len(t, finalState.Messages, 4)
	res, ok := finalState.Messages[2].(core.ToolResultMessage)
	require.True(t, ok)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "echo: hi", res.Content)
	assert.False(t, res.IsError)

	assert.Equal(t, 2, finalState.Metrics.ModelCalls)
	assert.Equal(t, 1, finalState.Metrics.ToolCalls)
	assert.Equal(t, 12, finalState.Metrics.TokensUsed)
	assert.Equal(t, 2, finalState.Turns)
}

func TestAgentLoopRecordsMetrics(t *testing.T) {
	reg := echoRegistry(t)
	provider := scriptedProvider(
		core.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"text":"hi"}`},
		"the echo said hi",
	)
	rec := &captureRecorder{}

	g, err := Compile(CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1"},
		Provider: provider,
		Runtime:  reg,
		ToolDefs: reg.Definitions([]string{"echo"}),
		Recorder: rec,
	})
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", userState("say hi"))
	_, err = drain(events, errCh)
	require.NoError(t, err)

	// Two model turns with their token usage, one successful tool call.
	assert.Equal(t, []int64{5, 7}, rec.modelTokens)
	assert.Equal(t, []string{"echo"}, rec.toolNames)
	assert.Equal(t, []bool{false}, rec.toolErrors)
}

func TestAgentLoopDirectAnswer(t *testing.T) {
	provider := model.NewMockProvider("direct")
	provider.AddResponse("hello", "hello back")

	g, err := Compile(CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1"},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
	})
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", userState("hello"))
	got, err := drain(events, errCh)
	require.NoError(t, err)

	var completed []string
	for _, ev := range got {
		if ev.Type == EventNode && ev.Phase == PhaseCompleted {
			completed = append(completed, ev.Node)
		}
	}
	assert.Equal(t, []string{NodeModel}, completed)
}

func TestAgentLoopApprovalInterrupt(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	reg := echoRegistry(t)
	provider := scriptedProvider(
		core.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"text":"risky"}`},
		"done",
	)

	g, err := Compile(CompileConfig{
		Agent:         core.AgentConfig{ID: "agent-1"},
		Provider:      provider,
		Runtime:       reg,
		ToolDefs:      reg.Definitions([]string{"echo"}),
		ApprovalTools: []string{"echo"},
	})
	require.NoError(t, err)

	withStore := func(o *RunOptions) {
		o.Checkpoints = store
		o.Namespace = "agent-1"
	}

	events, errCh := g.Stream(ctx, "thread-1", userState("do it"), withStore)
	got, err := drain(events, errCh)
	require.NoError(t, err)

	last := got[len(got)-1]
	require.Equal(t, EventInterrupt, last.Type)
	assert.Equal(t, "echo", last.Interrupt["action"])
	assert.Equal(t, map[string]any{"text": "risky"}, last.Interrupt["args"])

	t.Run("approved resume runs the tool", func(t *testing.T) {
		events, errCh := g.Stream(ctx, "thread-1", State{}, withStore, func(o *RunOptions) {
			o.Resume = &ResumeValue{Decision: "approved"}
		})
		got, err := drain(events, errCh)
		require.NoError(t, err)

		final := lastStateEvent(t, got)
		assert.Equal(t, "done", final.LastAssistantText())

		res := lastToolResult(t, final)
		assert.Equal(t, "echo: risky", res.Content)
		assert.False(t, res.IsError)
	})
}

func TestAgentLoopApprovalSettlesBatch(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	reg := echoRegistry(t)
	provider := model.NewMockProvider("batch")
	provider.RespondWith(func(req model.Request) model.Response {
		if len(req.Messages) > 0 {
			if _, ok := req.Messages[len(req.Messages)-1].(core.ToolResultMessage); ok {
				return model.Response{Text: "both done", FinishReason: "stop"}
			}
		}
		return model.Response{
			ToolCalls: []core.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: `{"text":"first"}`},
				{ID: "call-2", Name: "echo", Arguments: `{"text":"second"}`},
			},
			FinishReason: "tool_calls",
		}
	})

	g, err := Compile(CompileConfig{
		Agent:         core.AgentConfig{ID: "agent-1"},
		Provider:      provider,
		Runtime:       reg,
		ToolDefs:      reg.Definitions([]string{"echo"}),
		ApprovalTools: []string{"echo"},
	})
	require.NoError(t, err)

	withStore := func(o *RunOptions) {
		o.Checkpoints = store
		o.Namespace = "agent-1"
	}

	events, errCh := g.Stream(ctx, "thread-1", userState("do it"), withStore)
	got, err := drain(events, errCh)
	require.NoError(t, err)

	// Only the first gated call is surfaced for a decision.
	last := got[len(got)-1]
	require.Equal(t, EventInterrupt, last.Type)
	assert.Equal(t, map[string]any{"text": "first"}, last.Interrupt["args"])

	// The single approval settles the whole turn: both gated calls run.
	events, errCh = g.Stream(ctx, "thread-1", State{}, withStore, func(o *RunOptions) {
		o.Resume = &ResumeValue{Decision: "approved"}
	})
	got, err = drain(events, errCh)
	require.NoError(t, err)

	final := lastStateEvent(t, got)
	var contents []string
	for _, msg := range final.Messages {
		if res, ok := msg.(core.ToolResultMessage); ok {
			contents = append(contents, res.Content)
		}
	}
	assert.Equal(t, []string{"echo: first", "echo: second"}, contents)
	assert.Equal(t, 2, final.Metrics.ToolCalls)
	assert.Equal(t, "both done", final.LastAssistantText())
}

func TestAgentLoopApprovalEdited(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	reg := echoRegistry(t)
	provider := scriptedProvider(
		core.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"text":"original"}`},
		"done",
	)

	g, err := Compile(CompileConfig{
		Agent:         core.AgentConfig{ID: "agent-1"},
		Provider:      provider,
		Runtime:       reg,
		ToolDefs:      reg.Definitions([]string{"echo"}),
		ApprovalTools: []string{"echo"},
	})
	require.NoError(t, err)

	withStore := func(o *RunOptions) {
		o.Checkpoints = store
		o.Namespace = "agent-1"
	}

	events, errCh := g.Stream(ctx, "thread-1", userState("do it"), withStore)
	_, err = drain(events, errCh)
	require.NoError(t, err)

	events, errCh = g.Stream(ctx, "thread-1", State{}, withStore, func(o *RunOptions) {
		o.Resume = &ResumeValue{
			Decision:   "edited",
			EditedArgs: map[string]any{"text": "safer"},
		}
	})
	got, err := drain(events, errCh)
	require.NoError(t, err)

	res := lastToolResult(t, lastStateEvent(t, got))
	assert.Equal(t, "echo: safer", res.Content)
}

func TestAgentLoopApprovalRejected(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	reg := echoRegistry(t)
	provider := scriptedProvider(
		core.ToolCall{ID: "call-1", Name: "echo", Arguments: `{"text":"risky"}`},
		"understood",
	)

	g, err := Compile(CompileConfig{
		Agent:         core.AgentConfig{ID: "agent-1"},
		Provider:      provider,
		Runtime:       reg,
		ToolDefs:      reg.Definitions([]string{"echo"}),
		ApprovalTools: []string{"echo"},
	})
	require.NoError(t, err)

	withStore := func(o *RunOptions) {
		o.Checkpoints = store
		o.Namespace = "agent-1"
	}

	events, errCh := g.Stream(ctx, "thread-1", userState("do it"), withStore)
	_, err = drain(events, errCh)
	require.NoError(t, err)

	events, errCh = g.Stream(ctx, "thread-1", State{}, withStore, func(o *RunOptions) {
		o.Resume = &ResumeValue{Decision: "rejected", Note: "too risky"}
	})
	got, err := drain(events, errCh)
	require.NoError(t, err)

	final := lastStateEvent(t, got)
	res := lastToolResult(t, final)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "rejected by the user")
	assert.Contains(t, res.Content, "too risky")
	assert.Equal(t, 0, final.Metrics.ToolCalls)
	assert.Equal(t, "understood", final.LastAssistantText())
}

func TestAgentLoopDelegation(t *testing.T) {
	provider := scriptedProvider(
		core.ToolCall{
			ID:        "call-1",
			Name:      tool.DelegateToolName,
			Arguments: `{"agent":"researcher","task":"find sources"}`,
		},
		"summarized",
	)

	var gotReq core.DelegationRequest
	g, err := Compile(CompileConfig{
		Agent:    core.AgentConfig{ID: "supervisor", Role: core.RoleSupervisor},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
		Delegator: func(ctx context.Context, req core.DelegationRequest) (string, error) {
			gotReq = req
			return "found three sources", nil
		},
	})
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", userState("research this"))
	got, err := drain(events, errCh)
	require.NoError(t, err)

	assert.Equal(t, "supervisor", gotReq.SourceAgentID)
	assert.Equal(t, "researcher", gotReq.TargetAgentID)
	assert.Equal(t, "find sources", gotReq.Task)

	// The merged result names the producing agent, so a supervisor that
	// delegates several times can tell the answers apart.
	res := lastToolResult(t, lastStateEvent(t, got))
	assert.Equal(t, "[researcher] found three sources", res.Content)
	assert.False(t, res.IsError)
}

func TestAgentLoopDelegationFailureContained(t *testing.T) {
	provider := scriptedProvider(
		core.ToolCall{
			ID:        "call-1",
			Name:      tool.DelegateToolName,
			Arguments: `{"agent":"ghost","task":"haunt"}`,
		},
		"could not delegate, moving on",
	)

	g, err := Compile(CompileConfig{
		Agent:    core.AgentConfig{ID: "supervisor"},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
		Delegator: func(ctx context.Context, req core.DelegationRequest) (string, error) {
			return "", fmt.Errorf("agent not found: ghost")
		},
	})
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", userState("go"))
	got, err := drain(events, errCh)
	require.NoError(t, err)

	final := lastStateEvent(t, got)
	res := lastToolResult(t, final)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "delegation to ghost failed")
	assert.Equal(t, "could not delegate, moving on", final.LastAssistantText())
}

func lastStateEvent(t *testing.T, events []Event) *State {
	t.Helper()
	var st *State
	for _, ev := range events {
		if ev.Type == EventState {
			st = ev.State
		}
	}
	require.NotNil(t, st)
	return st
}

func lastToolResult(t *testing.T, st *State) core.ToolResultMessage {
	t.Helper()
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if res, ok := st.Messages[i].(core.ToolResultMessage); ok {
			return res
		}
	}
	t.Fatal("no tool result message in state")
	return core.ToolResultMessage{}
}
