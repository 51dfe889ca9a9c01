package provider

import (
	"sync"

	domain "github.com/tablevec/tablevec/domain/provider"
)

// Cache holds one embedder per provider and model pair for the lifetime
// of the process. Remote clients keep their HTTP connections and the
// local model stays loaded across jobs.
type Cache struct {
	factory EmbedderFactory

	mu      sync.Mutex
	entries map[string]domain.Embedder
}

// NewCache creates a Cache backed by the given factory.
func NewCache(factory EmbedderFactory) *Cache {
	return &Cache{
		factory: factory,
		entries: make(map[string]domain.Embedder),
	}
}

// Get returns the cached embedder for the provider and model pair,
// building one on first use.
func (c *Cache) Get(name, model string) (domain.Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := name + "/" + model
	if e, ok := c.entries[key]; ok {
		return e, nil
	}

	e, err := c.factory.New(name, model)
	if err != nil {
		return nil, err
	}
	c.entries[key] = e
	return e, nil
}

// Close closes every cached embedder and empties the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, e := range c.entries {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.entries, key)
	}
	return firstErr
}
