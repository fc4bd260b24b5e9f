package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/fault"
	"github.com/hupe1980/agentgrid/graph"
	"github.com/hupe1980/agentgrid/interrupt"
	"github.com/hupe1980/agentgrid/model"
	"github.com/hupe1980/agentgrid/tool"
)

type fixture struct {
	graph       *graph.CompiledGraph
	checkpoints checkpoint.Store
	interrupts  interrupt.Store
}

// approvalFixture compiles an agent loop with one approval-gated echo tool.
func approvalFixture(t *testing.T) fixture {
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
			return args["text"], nil
		},
	)
	require.NoError(t, reg.Register(echo))

	provider := model.NewMockProvider("approval")
	provider.RespondWith(func(req model.Request) model.Response {
		if len(req.Messages) > 0 {
			if _, ok := req.Messages[len(req.Messages)-1].(core.ToolResultMessage); ok {
				return model.Response{Text: "finished", FinishReason: "stop"}
			}
		}
		return model.Response{
			ToolCalls:    []core.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"payload"}`}},
			FinishReason: "tool_calls",
		}
	})

	g, err := graph.Compile(graph.CompileConfig{
		Agent:         core.AgentConfig{ID: "agent-1"},
		Provider:      provider,
		Runtime:       reg,
		ToolDefs:      reg.Definitions([]string{"echo"}),
		ApprovalTools: []string{"echo"},
	})
	require.NoError(t, err)

	cps := checkpoint.NewMemoryStore()
	t.Cleanup(func() { cps.Close() })
	ints := interrupt.NewMemoryStore()
	t.Cleanup(func() { ints.Close() })

	return fixture{graph: g, checkpoints: cps, interrupts: ints}
}

func initialState(input string) graph.State {
	return graph.State{
		Messages:   []core.Message{core.UserMessage{Text: input}},
		HistoryLen: 1,
	}
}

func TestRunCompletesWithoutInterrupt(t *testing.T) {
	provider := model.NewMockProvider("plain")
	provider.AddResponse("hello", "hello back")

	g, err := graph.Compile(graph.CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1"},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
	})
	require.NoError(t, err)

	exec := core.NewExecution("agent-1", "thread-1", "", "hello")
	var tokens string
	st, err := Run(context.Background(), Config{
		Graph:   g,
		OnToken: func(delta string) { tokens += delta },
	}, exec, initialState("hello"), nil)
	require.NoError(t, err)

	assert.Equal(t, "hello back", st.LastAssistantText())
	assert.Equal(t, "hello back", tokens)
}

func TestRunApproveAndResume(t *testing.T) {
	fx := approvalFixture(t)
	exec := core.NewExecution("agent-1", "thread-1", "user-1", "do it")

	type outcome struct {
		st  graph.State
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		st, err := Run(context.Background(), Config{
			Graph:        fx.graph,
			Checkpoints:  fx.checkpoints,
			Interrupts:   fx.interrupts,
			Namespace:    "agent-1",
			ApprovalPoll: 5 * time.Millisecond,
		}, exec, initialState("do it"), nil)
		done <- outcome{st, err}
	}()

	// Wait for the pending interrupt to appear, then approve it.
	require.Eventually(t, func() bool {
		rec, err := fx.interrupts.Get(context.Background(), exec.ID)
		return err == nil && rec.Status == interrupt.StatusPending
	}, 2*time.Second, 5*time.Millisecond)

	rec, err := fx.interrupts.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", rec.Request.Action)
	assert.Equal(t, "user-1", rec.UserID)

	_, err = fx.interrupts.Resolve(context.Background(), exec.ID, interrupt.Response{Status: interrupt.StatusApproved})
	require.NoError(t, err)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after approval")
	}
	require.NoError(t, out.err)
	assert.Equal(t, "finished", out.st.LastAssistantText())

	// Interrupt is cleared once the resumed run completed.
	_, err = fx.interrupts.Get(context.Background(), exec.ID)
	assert.ErrorIs(t, err, interrupt.ErrNotFound)

	// The pause was recorded as a step.
	snap := exec.Snapshot()
	var found bool
	for _, step := range snap.Steps {
		if step.Action == core.ActionInterrupt {
			found = true
		}
	}
	assert.True(t, found, "interrupt step recorded")
}

func TestRunApprovalTimeoutLeavesPending(t *testing.T) {
	fx := approvalFixture(t)
	exec := core.NewExecution("agent-1", "thread-1", "", "do it")

	_, err := Run(context.Background(), Config{
		Graph:           fx.graph,
		Checkpoints:     fx.checkpoints,
		Interrupts:      fx.interrupts,
		Namespace:       "agent-1",
		ApprovalTimeout: 30 * time.Millisecond,
		ApprovalPoll:    5 * time.Millisecond,
	}, exec, initialState("do it"), nil)

	require.ErrorIs(t, err, ErrApprovalExpired)

	// Expiry is permanent so retry wrappers do not rerun the wait.
	var permanent *fault.PermanentError
	assert.ErrorAs(t, err, &permanent)

	// The interrupt stays pending for a late decision.
	rec, getErr := fx.interrupts.Get(context.Background(), exec.ID)
	require.NoError(t, getErr)
	assert.Equal(t, interrupt.StatusPending, rec.Status)
}

func TestRunResumeSeedsDecision(t *testing.T) {
	fx := approvalFixture(t)
	exec := core.NewExecution("agent-1", "thread-1", "", "do it")

	// First run pauses and expires.
	_, err := Run(context.Background(), Config{
		Graph:           fx.graph,
		Checkpoints:     fx.checkpoints,
		Interrupts:      fx.interrupts,
		Namespace:       "agent-1",
		ApprovalTimeout: 20 * time.Millisecond,
		ApprovalPoll:    5 * time.Millisecond,
	}, exec, initialState("do it"), nil)
	require.ErrorIs(t, err, ErrApprovalExpired)

	// A later decision resumes from the checkpoint with the value seeded.
	st, err := Run(context.Background(), Config{
		Graph:       fx.graph,
		Checkpoints: fx.checkpoints,
		Interrupts:  fx.interrupts,
		Namespace:   "agent-1",
	}, exec, graph.State{}, &graph.ResumeValue{Decision: "approved"})
	require.NoError(t, err)
	assert.Equal(t, "finished", st.LastAssistantText())
}

func TestRunExecutionTimeout(t *testing.T) {
	provider := model.NewMockProvider("slow")
	provider.RespondWith(func(req model.Request) model.Response {
		time.Sleep(50 * time.Millisecond)
		return model.Response{Text: "late", FinishReason: "stop"}
	})

	g, err := graph.Compile(graph.CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1"},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
	})
	require.NoError(t, err)

	exec := core.NewExecution("agent-1", "thread-1", "", "hi")
	_, err = Run(context.Background(), Config{
		Graph:            g,
		ExecutionTimeout: 10 * time.Millisecond,
	}, exec, initialState("hi"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunPropagatesNodeError(t *testing.T) {
	provider := model.NewMockProvider("broken")
	provider.FailWith(errors.New("upstream 500"))

	g, err := graph.Compile(graph.CompileConfig{
		Agent:    core.AgentConfig{ID: "agent-1"},
		Provider: provider,
		Runtime:  tool.NewRegistry(),
	})
	require.NoError(t, err)

	exec := core.NewExecution("agent-1", "thread-1", "", "hi")
	_, err = Run(context.Background(), Config{Graph: g}, exec, initialState("hi"), nil)
	require.ErrorContains(t, err, "upstream 500")
}

func TestRunRejectsInterruptWithoutAction(t *testing.T) {
	g := graph.New()
	g.AddNode("pause", func(nc *graph.NodeContext, st graph.State) (graph.State, error) {
		return st, graph.Interrupt(map[string]any{"description": "something vague"})
	})
	g.AddEdge("pause", graph.End)
	g.SetEntry("pause")
	compiled, err := g.Compile()
	require.NoError(t, err)

	cps := checkpoint.NewMemoryStore()
	t.Cleanup(func() { cps.Close() })
	ints := interrupt.NewMemoryStore()
	t.Cleanup(func() { ints.Close() })

	exec := core.NewExecution("agent-1", "thread-1", "", "do it")
	_, err = Run(context.Background(), Config{
		Graph:       compiled,
		Checkpoints: cps,
		Interrupts:  ints,
		Namespace:   "agent-1",
	}, exec, initialState("do it"), nil)
	require.ErrorContains(t, err, "interrupt payload has no action")
	assert.Equal(t, fault.CategoryValidation, fault.Classify(err))

	// No record is persisted for a request nobody could decide on.
	_, getErr := ints.Get(context.Background(), exec.ID)
	assert.ErrorIs(t, getErr, interrupt.ErrNotFound)
}

func TestNormalizeInterrupt(t *testing.T) {
	bare := map[string]any{"action": "echo"}
	assert.Equal(t, bare, normalizeInterrupt(bare))

	wrapped := map[string]any{"value": map[string]any{"action": "echo"}}
	assert.Equal(t, bare, normalizeInterrupt(wrapped))

	assert.Empty(t, normalizeInterrupt(nil))

	// A single non-envelope key passes through untouched.
	other := map[string]any{"value": "not a map"}
	assert.Equal(t, other, normalizeInterrupt(other))
}
