// Package cache provides a generic, thread-safe LRU cache with optional
// per-entry expiry. It backs verse and page lookups against remote
// content providers.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats counts cache traffic.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// HitRate is hits over lookups, or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config controls an LRU.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int
	// TTL expires entries this long after their last Put (0 = never).
	TTL time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// DefaultConfig holds about two full mushaf readings worth of pages.
func DefaultConfig() Config {
	return Config{MaxSize: 1208}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// LRU is a least-recently-used cache.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	cfg     Config
	items   map[K]*list.Element
	order   *list.List
	stats   Stats
	onEvict func(K, V)
}

// NewLRU returns an empty cache.
func NewLRU[K comparable, V any](cfg Config) *LRU[K, V] {
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LRU[K, V]{cfg: cfg, items: make(map[K]*list.Element), order: list.New()}
}

// OnEvict registers fn to run when an entry is dropped for space or age.
func (c *LRU[K, V]) OnEvict(fn func(K, V)) *LRU[K, V] {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		e := el.Value.(*entry[K, V])
		if c.cfg.TTL > 0 && !c.cfg.Now().Before(e.expiresAt) {
			c.drop(el)
			c.stats.Evictions++
			ok = false
		} else {
			c.order.MoveToFront(el)
			c.stats.Hits++
			return e.value, true
		}
	}
	c.stats.Misses++
	var zero V
	return zero, false
}

// Put stores value under key, evicting the oldest entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if c.cfg.TTL > 0 {
		exp = c.cfg.Now().Add(c.cfg.TTL)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.expiresAt = value, exp
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: exp})
	if c.cfg.MaxSize > 0 && c.order.Len() > c.cfg.MaxSize {
		c.drop(c.order.Back())
		c.stats.Evictions++
	}
}

// Remove deletes key without counting an eviction.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Clear empties the cache and keeps the stats.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of entries, expired or not.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.MaxSize = c.cfg.MaxSize
	return s
}

func (c *LRU[K, V]) drop(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
