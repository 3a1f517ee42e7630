// Package cache holds small whole-set caches that expire together, such
// as the list of available reciters.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache stores a set of values that share one fetch time. When the TTL
// passes, every entry is stale at once.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	data    map[K]V
	fetched time.Time
	ttl     time.Duration
	now     func() time.Time
}

// New returns an empty, already-expired cache.
func New[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{data: make(map[K]V), ttl: ttl, now: time.Now}
}

// WithClock replaces the clock.
func (c *TTLCache[K, V]) WithClock(now func() time.Time) *TTLCache[K, V] {
	c.now = now
	return c
}

// Get returns a fresh value for key.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiredLocked() {
		var zero V
		return zero, false
	}
	v, ok := c.data[key]
	return v, ok
}

// GetAll returns a copy of the set, or nil when stale.
func (c *TTLCache[K, V]) GetAll() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiredLocked() {
		return nil
	}
	out := make(map[K]V, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// SetAll replaces the set and restarts the TTL.
func (c *TTLCache[K, V]) SetAll(data map[K]V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]V, len(data))
	for k, v := range data {
		c.data[k] = v
	}
	c.fetched = c.now()
}

// Load returns the cached set, calling fetch to refill it when stale. A
// failed fetch leaves the previous contents in place.
func (c *TTLCache[K, V]) Load(ctx context.Context, fetch func(context.Context) (map[K]V, error)) (map[K]V, error) {
	if all := c.GetAll(); all != nil {
		return all, nil
	}
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.SetAll(data)
	return data, nil
}

// IsExpired reports whether the set is stale.
func (c *TTLCache[K, V]) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiredLocked()
}

func (c *TTLCache[K, V]) expiredLocked() bool {
	return c.fetched.IsZero() || c.now().Sub(c.fetched) >= c.ttl
}

// Invalidate empties the set and marks it stale.
func (c *TTLCache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]V)
	c.fetched = time.Time{}
}

// Len counts entries, stale or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
