package postgres

import (
	"sort"
	"sync"
	"time"
)

// localCache is the pool-local query de-duplication cache. It is distinct
// from the shared result cache: short-lived, bounded by entry count, and
// evicted keep-newest-N when full.
type localCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]localEntry
}

type localEntry struct {
	rows      []map[string]any
	createdAt time.Time
	ttl       time.Duration
}

func newLocalCache(maxSize int) *localCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &localCache{
		maxSize: maxSize,
		items:   make(map[string]localEntry, maxSize),
	}
}

func (c *localCache) get(key string) ([]map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) >= e.ttl {
		delete(c.items, key)
		return nil, false
	}
	return e.rows, true
}

func (c *localCache) put(key string, rows []map[string]any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.items[key] = localEntry{rows: rows, createdAt: time.Now(), ttl: ttl}
}

// evictOldestLocked drops the oldest ~10% of entries, keeping the newest.
func (c *localCache) evictOldestLocked() {
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(c.items))
	for k, e := range c.items {
		entries = append(entries, aged{key: k, at: e.createdAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	drop := len(entries) / 10
	if drop < 1 {
		drop = 1
	}
	for _, e := range entries[:drop] {
		delete(c.items, e.key)
	}
}

func (c *localCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]localEntry, c.maxSize)
}

func (c *localCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
