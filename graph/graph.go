package graph

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgrid/logging"
)

// End is the pseudo-node name terminating a run.
const End = "__end__"

// NodeFunc transforms the state. Returning an error created by Interrupt
// pauses the run at this node instead of failing it.
type NodeFunc func(nc *NodeContext, st State) (State, error)

// RouterFunc picks the next node after a conditional edge. It must return a
// registered node name or End.
type RouterFunc func(st State) string

// NodeContext gives nodes access to the run's context and the event stream.
type NodeContext struct {
	// Context carries cancellation for the whole run.
	Context context.Context
	// Logger is scoped to the run.
	Logger logging.Logger

	emit func(Event)
}

// EmitToken streams an incremental output delta to the run's consumer.
func (nc *NodeContext) EmitToken(delta string) {
	if delta == "" {
		return
	}
	nc.emit(Event{Type: EventToken, Token: delta})
}

// InterruptError pauses the run at the raising node. The run loop
// checkpoints the node's input state so a later resume re-runs the node with
// the approval decision injected.
type InterruptError struct {
	// Payload describes the action awaiting approval.
	Payload map[string]any
}

func (e *InterruptError) Error() string { return "execution interrupted awaiting approval" }

// Interrupt creates an InterruptError with the given payload.
func Interrupt(payload map[string]any) error {
	return &InterruptError{Payload: payload}
}

// NodeError wraps a node failure with the node's name.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("%s: %s", e.Node, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }

// Graph is a mutable builder for execution graphs. Build the topology with
// AddNode/AddEdge/AddConditionalEdge/SetEntry, then Compile into an immutable
// runnable form. The builder is not safe for concurrent use; compiled graphs
// are.
type Graph struct {
	nodes       map[string]NodeFunc
	edges       map[string]string
	conditional map[string]RouterFunc
	entry       string
}

// New creates an empty graph builder.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]NodeFunc),
		edges:       make(map[string]string),
		conditional: make(map[string]RouterFunc),
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge wires an unconditional transition from one node to the next.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// AddConditionalEdge wires a router deciding the next node at runtime.
// A conditional edge takes precedence over a static edge from the same node.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	g.conditional[from] = router
	return g
}

// SetEntry names the node the run starts at.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// Compile validates the topology and returns an immutable CompiledGraph.
func (g *Graph) Compile() (*CompiledGraph, error) {
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	if g.entry == "" {
		return nil, fmt.Errorf("graph has no entry point")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph entry references unknown node %q", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph edge from unknown node %q", from)
		}
		if to != End {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("graph edge to unknown node %q", to)
			}
		}
	}
	for from := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph conditional edge from unknown node %q", from)
		}
	}

	nodes := make(map[string]NodeFunc, len(g.nodes))
	for k, v := range g.nodes {
		nodes[k] = v
	}
	edges := make(map[string]string, len(g.edges))
	for k, v := range g.edges {
		edges[k] = v
	}
	conditional := make(map[string]RouterFunc, len(g.conditional))
	for k, v := range g.conditional {
		conditional[k] = v
	}

	return &CompiledGraph{
		nodes:       nodes,
		edges:       edges,
		conditional: conditional,
		entry:       g.entry,
	}, nil
}
