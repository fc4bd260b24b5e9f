package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/core"
)

// drain collects all events and the terminal error of a Stream call.
func drain(events <-chan Event, errCh <-chan error) ([]Event, error) {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errCh
}

func appendNote(text string) NodeFunc {
	return func(nc *NodeContext, st State) (State, error) {
		st.Messages = append(st.Messages, core.SystemMessage{Text: text})
		return st, nil
	}
}

func TestCompileValidation(t *testing.T) {
	t.Run("no nodes", func(t *testing.T) {
		_, err := New().Compile()
		require.ErrorContains(t, err, "no nodes")
	})

	t.Run("no entry", func(t *testing.T) {
		_, err := New().AddNode("a", appendNote("a")).Compile()
		require.ErrorContains(t, err, "no entry point")
	})

	t.Run("unknown entry", func(t *testing.T) {
		_, err := New().AddNode("a", appendNote("a")).SetEntry("missing").Compile()
		require.ErrorContains(t, err, "unknown node")
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		_, err := New().
			AddNode("a", appendNote("a")).
			AddEdge("a", "missing").
			SetEntry("a").
			Compile()
		require.ErrorContains(t, err, "unknown node")
	})

	t.Run("edge to End is valid", func(t *testing.T) {
		g, err := New().
			AddNode("a", appendNote("a")).
			AddEdge("a", End).
			SetEntry("a").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, "a", g.Entry())
	})
}

func TestStreamLinearRun(t *testing.T) {
	g, err := New().
		AddNode("first", appendNote("one")).
		AddNode("second", appendNote("two")).
		AddEdge("first", "second").
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", State{})
	got, err := drain(events, errCh)
	require.NoError(t, err)

	var order []string
	var finalState *State
	for _, ev := range got {
		if ev.Type == EventNode {
			order = append(order, fmt.Sprintf("%s:%s", ev.Node, ev.Phase))
		}
		if ev.Type == EventState {
			finalState = ev.State
		}
	}
	assert.Equal(t, []string{
		"first:entered", "first:completed",
		"second:entered", "second:completed",
	}, order)

	require.NotNil(t, finalState)
	require.Len(t, finalState.Messages, 2)
	assert.Equal(t, "two", core.TextOf(finalState.Messages[1]))
}

func TestStreamConditionalRouting(t *testing.T) {
	g, err := New().
		AddNode("gate", appendNote("gate")).
		AddNode("left", appendNote("left")).
		AddNode("right", appendNote("right")).
		AddConditionalEdge("gate", func(st State) string {
			if st.Turns > 0 {
				return "left"
			}
			return "right"
		}).
		SetEntry("gate").
		Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", State{})
	got, err := drain(events, errCh)
	require.NoError(t, err)

	var visited []string
	for _, ev := range got {
		if ev.Type == EventNode && ev.Phase == PhaseCompleted {
			visited = append(visited, ev.Node)
		}
	}
	assert.Equal(t, []string{"gate", "right"}, visited)
}

func TestStreamMaxIterations(t *testing.T) {
	g, err := New().
		AddNode("loop", appendNote("again")).
		AddEdge("loop", "loop").
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", State{}, func(o *RunOptions) {
		o.MaxIterations = 3
	})
	_, err = drain(events, errCh)
	require.ErrorContains(t, err, "max iterations")
}

func TestStreamNodeError(t *testing.T) {
	boom := fmt.Errorf("backend unavailable")
	g, err := New().
		AddNode("flaky", func(nc *NodeContext, st State) (State, error) {
			return st, boom
		}).
		SetEntry("flaky").
		Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", State{})
	_, err = drain(events, errCh)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "flaky", ne.Node)
	assert.ErrorIs(t, err, boom)
}

func TestStreamInterruptAndResume(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	// The node interrupts until a decision arrives, then records it.
	gate := func(nc *NodeContext, st State) (State, error) {
		if st.Resume == nil {
			return st, Interrupt(map[string]any{"action": "deploy"})
		}
		decision := st.Resume.Decision
		st.Resume = nil
		st.Messages = append(st.Messages, core.SystemMessage{Text: decision})
		return st, nil
	}

	g, err := New().AddNode("gate", gate).SetEntry("gate").Compile()
	require.NoError(t, err)

	withStore := func(o *RunOptions) {
		o.Checkpoints = store
		o.Namespace = "agent-1"
	}

	events, errCh := g.Stream(ctx, "thread-1", State{}, withStore)
	got, err := drain(events, errCh)
	require.NoError(t, err)

	last := got[len(got)-1]
	require.Equal(t, EventInterrupt, last.Type)
	assert.Equal(t, "deploy", last.Interrupt["action"])

	// The interrupt checkpointed the node's input state.
	tuple, err := store.GetTuple(ctx, "thread-1", "agent-1", "")
	require.NoError(t, err)
	assert.Equal(t, "interrupt", tuple.Metadata.Source)
	assert.Equal(t, "gate", tuple.Metadata.Node)

	// Resume re-runs the interrupted node with the decision injected.
	events, errCh = g.Stream(ctx, "thread-1", State{}, withStore, func(o *RunOptions) {
		o.Resume = &ResumeValue{Decision: "approved"}
	})
	got, err = drain(events, errCh)
	require.NoError(t, err)

	var finalState *State
	for _, ev := range got {
		if ev.Type == EventState {
			finalState = ev.State
		}
	}
	require.NotNil(t, finalState)
	require.Len(t, finalState.Messages, 1)
	assert.Equal(t, "approved", core.TextOf(finalState.Messages[0]))
	assert.Nil(t, finalState.Resume)
}

func TestStreamResumeRequiresStore(t *testing.T) {
	g, err := New().AddNode("a", appendNote("a")).SetEntry("a").Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(context.Background(), "thread-1", State{}, func(o *RunOptions) {
		o.Resume = &ResumeValue{Decision: "approved"}
	})
	_, err = drain(events, errCh)
	require.ErrorContains(t, err, "checkpoint store")
}

func TestStreamContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, err := New().AddNode("a", appendNote("a")).SetEntry("a").Compile()
	require.NoError(t, err)

	events, errCh := g.Stream(ctx, "thread-1", State{})
	_, err = drain(events, errCh)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCache(t *testing.T) {
	cache := NewCache()

	compiles := 0
	compile := func() (*CompiledGraph, error) {
		compiles++
		return New().AddNode("a", appendNote("a")).SetEntry("a").Compile()
	}

	first, err := cache.GetOrCompile("agent-1", compile)
	require.NoError(t, err)
	second, err := cache.GetOrCompile("agent-1", compile)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, compiles)
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate("agent-1")
	_, err = cache.GetOrCompile("agent-1", compile)
	require.NoError(t, err)
	assert.Equal(t, 2, compiles)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheCompileError(t *testing.T) {
	cache := NewCache()
	_, err := cache.GetOrCompile("broken", func() (*CompiledGraph, error) {
		return nil, fmt.Errorf("bad topology")
	})
	require.ErrorContains(t, err, "bad topology")
	assert.Equal(t, 0, cache.Len())
}
