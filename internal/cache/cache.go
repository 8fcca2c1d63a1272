// Package cache holds loaded model contexts keyed by model identifier.
package cache

// Cache maps a model identifier to its loaded context. Entries are created
// lazily and never replaced or evicted. A Cache is not safe for concurrent
// use: the worker processes one request at a time and is its only writer.
type Cache[T any] struct {
	entries map[string]T
	order   []string
}

// New returns an empty cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]T),
		order:   []string{},
	}
}

// GetOrCreate returns the context for key, running factory only when the key
// is absent. A factory error leaves the cache unchanged.
func (c *Cache[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}

	created, err := factory()
	if err != nil {
		var zero T

		return zero, err
	}

	c.entries[key] = created
	c.order = append(c.order, key)

	return created, nil
}

// Get returns the context for key without loading it.
func (c *Cache[T]) Get(key string) (T, bool) {
	existing, ok := c.entries[key]

	return existing, ok
}

// Contains reports whether key has been loaded.
func (c *Cache[T]) Contains(key string) bool {
	_, ok := c.entries[key]

	return ok
}

// Keys lists loaded identifiers in load order. The result is never nil.
func (c *Cache[T]) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)

	return keys
}

// Len returns the number of loaded entries.
func (c *Cache[T]) Len() int {
	return len(c.entries)
}
