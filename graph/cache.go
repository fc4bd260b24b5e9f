package graph

import "sync"

// Cache memoizes compiled graphs by agent id. Compilation is pure over the
// agent configuration, so a compiled graph stays valid until the
// configuration changes; callers invalidate on reconfiguration.
type Cache struct {
	mu     sync.Mutex
	graphs map[string]*CompiledGraph
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{graphs: make(map[string]*CompiledGraph)}
}

// GetOrCompile returns the cached graph for the key, compiling and storing it
// on first use. Concurrent callers for the same key may both compile; the
// first stored result wins.
func (c *Cache) GetOrCompile(key string, compile func() (*CompiledGraph, error)) (*CompiledGraph, error) {
	c.mu.Lock()
	if g, ok := c.graphs[key]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	g, err := compile()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.graphs[key]; ok {
		return existing, nil
	}
	c.graphs[key] = g
	return g, nil
}

// Invalidate drops the cached graph for the key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, key)
}

// Clear drops all cached graphs.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs = make(map[string]*CompiledGraph)
}

// Len reports the number of cached graphs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.graphs)
}
