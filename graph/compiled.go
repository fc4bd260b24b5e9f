package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentgrid/checkpoint"
	"github.com/hupe1980/agentgrid/internal/util"
	"github.com/hupe1980/agentgrid/logging"
)

// DefaultMaxIterations bounds the run loop when the caller does not.
const DefaultMaxIterations = 25

// RunOptions configure one Stream call.
type RunOptions struct {
	// Checkpoints, when set, persists state after every node under
	// (threadID, Namespace) and enables Resume.
	Checkpoints checkpoint.Store
	// Namespace scopes checkpoints, normally the agent id.
	Namespace string
	// MaxIterations bounds node executions per Stream call.
	MaxIterations int
	// Resume injects an approval decision and restarts from the latest
	// checkpoint instead of the initial state.
	Resume *ResumeValue
	Logger logging.Logger
}

// CompiledGraph is the immutable runnable form of a Graph. Safe for
// concurrent Stream calls; all run state lives on the stack of each call.
type CompiledGraph struct {
	nodes       map[string]NodeFunc
	edges       map[string]string
	conditional map[string]RouterFunc
	entry       string
}

// Entry returns the entry node name.
func (g *CompiledGraph) Entry() string { return g.entry }

// Stream runs the graph, emitting events until completion, interrupt or
// failure. Both returned channels are closed when the run ends; the error
// channel carries at most one error. An interrupt is not an error: the event
// stream ends with an EventInterrupt and the error channel stays empty.
func (g *CompiledGraph) Stream(ctx context.Context, threadID string, initial State, optFns ...func(o *RunOptions)) (<-chan Event, <-chan error) {
	opts := RunOptions{
		MaxIterations: DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	events := make(chan Event, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)
		if err := g.run(ctx, threadID, initial, opts, events); err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

func (g *CompiledGraph) run(ctx context.Context, threadID string, st State, opts RunOptions, events chan<- Event) error {
	node := g.entry
	step := 0
	counters := map[string]int{}

	if opts.Resume != nil {
		if opts.Checkpoints == nil {
			return fmt.Errorf("graph resume requires a checkpoint store")
		}
		tuple, err := opts.Checkpoints.GetTuple(ctx, threadID, opts.Namespace, "")
		if err != nil {
			return fmt.Errorf("load resume checkpoint: %w", err)
		}
		if err := json.Unmarshal(tuple.Checkpoint.State, &st); err != nil {
			return fmt.Errorf("decode resume checkpoint: %w", err)
		}
		node = tuple.Metadata.Node
		step = tuple.Metadata.Step
		if tuple.Checkpoint.Counters != nil {
			counters = tuple.Checkpoint.Counters
		}
		resume := *opts.Resume
		st.Resume = &resume
		opts.Logger.Info("resuming from checkpoint", "thread_id", threadID, "node", node, "step", step)
	}

	nc := &NodeContext{
		Context: ctx,
		Logger:  opts.Logger,
		emit:    func(ev Event) { events <- ev },
	}

	for iterations := 0; node != End; iterations++ {
		if iterations >= opts.MaxIterations {
			return fmt.Errorf("graph exceeded max iterations (%d)", opts.MaxIterations)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fn, ok := g.nodes[node]
		if !ok {
			return fmt.Errorf("unknown node %q", node)
		}

		events <- Event{Type: EventNode, Node: node, Phase: PhaseEntered}

		next, err := g.runNode(ctx, threadID, nc, fn, node, &st, counters, step, opts, events)
		if err != nil {
			return err
		}
		if next == "" { // interrupted
			return nil
		}
		step++
		node = next
	}
	return nil
}

// runNode executes one node and returns the next node name, or "" when the
// run was interrupted and already checkpointed.
func (g *CompiledGraph) runNode(
	ctx context.Context,
	threadID string,
	nc *NodeContext,
	fn NodeFunc,
	node string,
	st *State,
	counters map[string]int,
	step int,
	opts RunOptions,
	events chan<- Event,
) (string, error) {
	newSt, err := fn(nc, *st)
	if err != nil {
		var ie *InterruptError
		if errors.As(err, &ie) {
			// Persist the node's input state: resuming re-runs this
			// node with the decision injected.
			if saveErr := g.save(ctx, threadID, *st, counters, node, step, "interrupt", opts); saveErr != nil {
				return "", saveErr
			}
			events <- Event{Type: EventInterrupt, Node: node, Interrupt: ie.Payload}
			return "", nil
		}
		return "", &NodeError{Node: node, Err: err}
	}

	*st = newSt
	counters[node]++

	snapshot := newSt.Clone()
	events <- Event{Type: EventNode, Node: node, Phase: PhaseCompleted}
	events <- Event{Type: EventState, Node: node, State: &snapshot}

	next := g.route(node, newSt)
	if err := g.save(ctx, threadID, newSt, counters, next, step+1, "run", opts); err != nil {
		return "", err
	}
	return next, nil
}

func (g *CompiledGraph) route(node string, st State) string {
	if router, ok := g.conditional[node]; ok {
		return router(st)
	}
	if to, ok := g.edges[node]; ok {
		return to
	}
	return End
}

func (g *CompiledGraph) save(ctx context.Context, threadID string, st State, counters map[string]int, nextNode string, step int, source string, opts RunOptions) error {
	if opts.Checkpoints == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	countersCopy := make(map[string]int, len(counters))
	for k, v := range counters {
		countersCopy[k] = v
	}
	cp := checkpoint.Checkpoint{
		Version:   1,
		ID:        util.NewID(),
		Timestamp: time.Now().UTC(),
		State:     data,
		Counters:  countersCopy,
	}
	md := checkpoint.Metadata{Source: source, Node: nextNode, Step: step}
	if err := opts.Checkpoints.PutTuple(ctx, threadID, opts.Namespace, cp, md); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
