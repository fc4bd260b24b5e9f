package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgrid/model"
)

// Runtime executes tool calls by name. The graph layer depends on this
// interface rather than the concrete Registry so tests can substitute fakes.
type Runtime interface {
	// Run looks up and invokes a tool. Unknown names fail with *ToolError.
	Run(ctx context.Context, name string, args map[string]any) (any, error)
}

// Registry is the default Runtime: a concurrent name-indexed tool collection.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting duplicate names.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Run implements Runtime.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, NewToolError(name, "not registered", "NOT_FOUND")
	}
	return t.Call(ctx, args)
}

// Definitions builds model tool definitions for the named tools, preserving
// order and skipping names that are not registered.
func (r *Registry) Definitions(names []string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
