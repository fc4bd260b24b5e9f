package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentgrid/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Tool {
	return NewFunctionTool(
		"echo",
		"Echo the input back",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)
}

func TestRegistryRegisterAndRun(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	t.Run("duplicate name rejected", func(t *testing.T) {
		assert.Error(t, r.Register(echoTool()))
	})

	t.Run("run", func(t *testing.T) {
		result, err := r.Run(context.Background(), "echo", map[string]any{"text": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", result)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := r.Run(context.Background(), "nope", nil)
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "NOT_FOUND", toolErr.Code)
	})
}

func TestFunctionToolValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	t.Run("missing required field", func(t *testing.T) {
		_, err := r.Run(context.Background(), "echo", map[string]any{})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := r.Run(context.Background(), "echo", map[string]any{"text": 42})
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	})
}

func TestFunctionToolErrorWrapping(t *testing.T) {
	failing := NewFunctionTool("fail", "always fails", map[string]any{"type": "object"}, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := failing.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)

	custom := NewFunctionTool("custom", "custom code", map[string]any{"type": "object"}, func(context.Context, map[string]any) (any, error) {
		return nil, NewToolError("custom", "nope", "RATE_LIMITED")
	})
	_, err = custom.Call(context.Background(), map[string]any{})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	require.NoError(t, r.Register(NewDelegateTool([]string{"research", "write"})))

	defs := r.Definitions([]string{"echo", "missing", DelegateToolName})
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, DelegateToolName, defs[1].Function.Name)
	assert.Contains(t, defs[1].Function.Description, "research")
}

func TestParseDelegation(t *testing.T) {
	t.Run("full arguments", func(t *testing.T) {
		req, err := ParseDelegation("supervisor", "exec-1", map[string]any{
			"agent":    "research",
			"task":     "find sources",
			"context":  "topic: tides",
			"priority": "high",
		})
		require.NoError(t, err)
		assert.Equal(t, "supervisor", req.SourceAgentID)
		assert.Equal(t, "exec-1", req.SourceExecutionID)
		assert.Equal(t, "research", req.TargetAgentID)
		assert.Equal(t, core.PriorityHigh, req.Priority)
	})

	t.Run("defaults priority", func(t *testing.T) {
		req, err := ParseDelegation("s", "e", map[string]any{"agent": "a", "task": "t", "priority": "urgent"})
		require.NoError(t, err)
		assert.Equal(t, core.PriorityNormal, req.Priority, "unknown priority falls back to normal")
	})

	t.Run("missing task", func(t *testing.T) {
		_, err := ParseDelegation("s", "e", map[string]any{"agent": "a"})
		assert.Error(t, err)
	})
}
