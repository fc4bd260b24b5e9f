// Package registry holds agent configurations and resolves the names models
// use in delegation calls to canonical agent ids.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentgrid/core"
)

// AgentRegistry resolves and enumerates agent configurations.
type AgentRegistry interface {
	// GetByID returns the configuration for a canonical agent id.
	GetByID(id string) (core.AgentConfig, bool)

	// GetSubAgents lists the agents whose ParentID is the given agent.
	GetSubAgents(parentID string) []core.AgentConfig

	// ResolveCanonicalID maps a model-facing name, alias or id to the
	// canonical agent id. Resolution prefers the caller's own sub-agents
	// before falling back to the global namespace.
	ResolveCanonicalID(callerID, name string) (string, bool)

	// List returns all registered agents sorted by id.
	List() []core.AgentConfig
}

// InMemoryRegistry is the default AgentRegistry backed by a map. Safe for
// concurrent use.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	agents  map[string]core.AgentConfig
	aliases map[string]string // normalized alias -> canonical id
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		agents:  make(map[string]core.AgentConfig),
		aliases: make(map[string]string),
	}
}

// Register adds an agent. Sub-agents must reference a registered parent that
// is itself a top-level agent; nesting stops at one level.
func (r *InMemoryRegistry) Register(cfg core.AgentConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("agent id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[cfg.ID]; exists {
		return fmt.Errorf("agent %q already registered", cfg.ID)
	}
	if cfg.IsSubAgent() {
		parent, ok := r.agents[cfg.ParentID]
		if !ok {
			return fmt.Errorf("agent %q references unknown parent %q", cfg.ID, cfg.ParentID)
		}
		if parent.IsSubAgent() {
			return fmt.Errorf("agent %q nests under sub-agent %q; only one level of nesting is supported", cfg.ID, cfg.ParentID)
		}
	}

	r.agents[cfg.ID] = cfg
	r.aliases[normalize(cfg.ID)] = cfg.ID
	if cfg.Name != "" {
		r.aliases[normalize(cfg.Name)] = cfg.ID
	}
	return nil
}

// GetByID implements AgentRegistry.
func (r *InMemoryRegistry) GetByID(id string) (core.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[id]
	return cfg, ok
}

// GetSubAgents implements AgentRegistry.
func (r *InMemoryRegistry) GetSubAgents(parentID string) []core.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []core.AgentConfig
	for _, cfg := range r.agents {
		if cfg.ParentID == parentID {
			subs = append(subs, cfg)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

// ResolveCanonicalID implements AgentRegistry. The caller's sub-agents win
// over globally registered names so a supervisor saying "researcher" reaches
// its own researcher even when another team registered one too.
func (r *InMemoryRegistry) ResolveCanonicalID(callerID, name string) (string, bool) {
	key := normalize(name)
	if key == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if callerID != "" {
		for _, cfg := range r.agents {
			if cfg.ParentID != callerID {
				continue
			}
			if normalize(cfg.ID) == key || normalize(cfg.Name) == key {
				return cfg.ID, true
			}
		}
	}
	id, ok := r.aliases[key]
	return id, ok
}

// List implements AgentRegistry.
func (r *InMemoryRegistry) List() []core.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.AgentConfig, 0, len(r.agents))
	for _, cfg := range r.agents {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// normalize folds case and treats spaces, dashes and underscores alike, so
// "Data Analyst", "data-analyst" and "data_analyst" resolve identically.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}
