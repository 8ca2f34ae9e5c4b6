// Package cache decorates a storage connector with a read cache for
// non-claiming lookups. Claims, marks and other writes always reach the
// inner store and invalidate whatever they could have made stale.
package cache

import (
	"sync"
	"time"

	"github.com/syntrixbase/stagehand/internal/metrics"
	"github.com/syntrixbase/stagehand/pkg/model"
)

// Cache holds query results keyed by an opaque string. Results are never
// mutated after Put; callers clone before handing them out.
type Cache interface {
	// Get returns the cached result for key.
	Get(key string) ([]*model.Document, bool)
	// Epoch returns a token that changes on every invalidation.
	Epoch() uint64
	// Put stores docs under key unless an invalidation happened since epoch
	// was read.
	Put(key string, q model.Query, docs []*model.Document, epoch uint64)
	// Invalidate drops every entry for which stale returns true and returns
	// the number of dropped entries. It always advances the epoch.
	Invalidate(stale func(q model.Query, docs []*model.Document) bool) int
	Len() int
}

// NoopCache stores nothing.
type NoopCache struct{}

func (NoopCache) Get(string) ([]*model.Document, bool) { return nil, false }
func (NoopCache) Epoch() uint64                        { return 0 }

func (NoopCache) Put(string, model.Query, []*model.Document, uint64) {}

func (NoopCache) Invalidate(func(model.Query, []*model.Document) bool) int { return 0 }

func (NoopCache) Len() int { return 0 }

// MemoryCache is a size-bounded map with per-entry expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	epoch   uint64
	size    int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	query     model.Query
	docs      []*model.Document
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most size entries for ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		size:    size,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(key string) ([]*model.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.docs, true
}

func (c *MemoryCache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *MemoryCache) Put(key string, q model.Query, docs []*model.Document, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	c.entries[key] = &cacheEntry{
		query:     q,
		docs:      docs,
		expiresAt: c.now().Add(c.ttl),
	}
	c.evictIfNeeded()
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

func (c *MemoryCache) Invalidate(stale func(q model.Query, docs []*model.Document) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	dropped := 0
	for key, entry := range c.entries {
		if stale(entry.query, entry.docs) {
			delete(c.entries, key)
			dropped++
		}
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return dropped
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries = make(map[string]*cacheEntry)
	metrics.CacheEntries.Set(0)
}

// evictIfNeeded removes expired entries and evicts the oldest while over
// capacity. Caller must hold the write lock.
func (c *MemoryCache) evictIfNeeded() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.size {
		var oldestKey string
		var oldestTime time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
