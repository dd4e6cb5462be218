// Package cache provides a TTL and size bounded in-memory cache.
//
// Entries expire once now >= expiresAt. Expired entries are dropped lazily on
// lookup and by a sweep that runs at most once per cleanup interval. When an
// insert would exceed MaxEntries, the least recently accessed entries are
// evicted first.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config controls cache limits.
type Config struct {
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig is used for zero fields.
var DefaultConfig = Config{
	TTL:             5 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: time.Minute,
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultConfig.TTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultConfig.MaxEntries
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultConfig.CleanupInterval
	}
	return c
}

// Entry is a cached value with its bookkeeping.
type Entry[K comparable, V any] struct {
	Key        K
	Value      V
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastAccess time.Time
	Hits       int
}

func (e *Entry[K, V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is a read-only snapshot of cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Size        int
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a TTL and size bounded map. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	cfg Config

	mu        sync.Mutex
	items     map[K]*list.Element // values are *Entry[K, V]
	order     *list.List          // front = most recently accessed
	lastSweep time.Time
	stats     Stats
}

// New creates a cache. Zero config fields take DefaultConfig values.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	return &Cache[K, V]{
		cfg:   cfg.withDefaults(),
		items: make(map[K]*list.Element),
		order: list.New(),
	}
}

// Config returns the effective configuration.
func (c *Cache[K, V]) Config() Config {
	return c.cfg
}

// Get returns the value for key if present and not expired at now.
func (c *Cache[K, V]) Get(key K, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeSweep(now)

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	entry := el.Value.(*Entry[K, V])
	if entry.expired(now) {
		c.remove(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	entry.LastAccess = now
	entry.Hits++
	c.order.MoveToFront(el)
	c.stats.Hits++
	return entry.Value, true
}

// Put stores value under key, evicting the coldest entries if the cache is full.
func (c *Cache[K, V]) Put(key K, value V, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeSweep(now)

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*Entry[K, V])
		entry.Value = value
		entry.CreatedAt = now
		entry.ExpiresAt = now.Add(c.cfg.TTL)
		entry.LastAccess = now
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.cfg.MaxEntries {
		coldest := c.order.Back()
		if coldest == nil {
			break
		}
		c.remove(coldest)
		c.stats.Evictions++
	}

	entry := &Entry[K, V]{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.cfg.TTL),
		LastAccess: now,
	}
	c.items[key] = c.order.PushFront(entry)
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// Clear removes all entries. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Sweep removes every entry expired at now and returns how many were removed.
func (c *Cache[K, V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sweep(now)
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = len(c.items)
	return s
}

// maybeSweep runs a sweep at most once per cleanup interval. Caller holds mu.
func (c *Cache[K, V]) maybeSweep(now time.Time) {
	if c.lastSweep.IsZero() {
		c.lastSweep = now
		return
	}
	if now.Sub(c.lastSweep) < c.cfg.CleanupInterval {
		return
	}
	c.sweep(now)
}

// sweep drops expired entries. Caller holds mu.
func (c *Cache[K, V]) sweep(now time.Time) int {
	c.lastSweep = now
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry[K, V]).expired(now) {
			c.remove(el)
			removed++
		}
		el = next
	}
	c.stats.Expirations += int64(removed)
	return removed
}

func (c *Cache[K, V]) remove(el *list.Element) {
	entry := c.order.Remove(el).(*Entry[K, V])
	delete(c.items, entry.Key)
}
