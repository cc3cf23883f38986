// Package cache provides a keyed TTL cache with single-flight load
// coalescing. Concurrent misses on the same key invoke the loader exactly
// once and share its outcome; loads for distinct keys proceed in parallel.
// Expired entries are not proactively evicted — they are overwritten by
// the next load.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache for values of type V.
type Cache[V any] struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry[V]

	group singleflight.Group
}

// New creates a cache whose entries live for ttl after each load.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}
}

// GetOrLoad returns the cached value for key, or runs loader to produce
// it. If another load for the same key is in flight, the caller joins it
// instead of starting its own. A failed load writes nothing; every joined
// caller observes the error.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	out, err, _ := c.group.Do(key, func() (any, error) {
		// A load that finished between the miss and acquiring the flight
		// already wrote a fresh entry.
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out.(V), nil
}

func (c *Cache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !e.expiresAt.After(time.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate removes one key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Size returns the number of stored entries, expired ones included.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
