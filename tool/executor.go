package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// Result is the settled outcome of one tool call in a batch. Exactly one
// Result is produced per incoming call, success or not.
type Result struct {
	CallID     string
	Name       string
	Value      any
	Err        error
	DurationMs int64
}

// Content renders the result for a tool result message.
func (r Result) Content() string {
	if r.Err != nil {
		return fmt.Sprintf("Error: %s", r.Err.Error())
	}
	switch v := r.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ExecutorConfig configures the parallel batch executor.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent calls; 0 or <1 means no explicit limit.
	MaxParallel int
	// CallTimeout bounds each individual call; 0 disables the per-call cap.
	CallTimeout time.Duration
	Logger      logging.Logger
}

// Execute runs a batch of tool calls against the runtime, fanning out with a
// semaphore and settling every call: panics and timeouts become errored
// Results, never lost calls. Results preserve the order of the input batch.
func Execute(ctx context.Context, rt Runtime, calls []core.ToolCall, cfg ExecutorConfig) []Result {
	n := len(calls)
	if n == 0 {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		return []Result{executeOne(ctx, rt, calls[0], cfg, logger)}
	}

	maxPar := cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]Result, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = executeOne(ctx, rt, call, cfg, logger)
		}(i, calls[i])
	}
	wg.Wait()

	logger.Debug("tool batch complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func executeOne(ctx context.Context, rt Runtime, call core.ToolCall, cfg ExecutorConfig, logger logging.Logger) Result {
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	res := Result{CallID: call.ID, Name: call.Name}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		res.Err = NewToolError(call.Name, err.Error(), "VALIDATION_ERROR")
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	type outcome struct {
		value any
		err   error
	}
	outCh := make(chan outcome, 1)
	go func() {
		defer func() { // panic safety
			if r := recover(); r != nil {
				outCh <- outcome{err: panicError(call.Name, r)}
				logger.Error("tool panic", "tool", call.Name, "recover", r)
			}
		}()
		value, err := rt.Run(ctx, call.Name, args)
		outCh <- outcome{value: value, err: err}
	}()

	select {
	case out := <-outCh:
		res.Value, res.Err = out.value, out.err
	case <-ctx.Done():
		res.Err = NewToolError(call.Name, fmt.Sprintf("tool call aborted: %v", ctx.Err()), "TIMEOUT")
	}

	res.DurationMs = time.Since(start).Milliseconds()
	logger.Info("tool executed",
		"tool", call.Name,
		"duration_ms", res.DurationMs,
		"error", res.Err != nil,
	)
	return res
}

func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return args, nil
}

// panicError converts a recovered panic value to an error without pulling
// external dependencies.
func panicError(tool string, r any) error {
	return &panicErr{tool: tool, val: r, stack: debug.Stack()}
}

type panicErr struct {
	tool  string
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("tool %s panicked: %v", p.tool, p.val) }
