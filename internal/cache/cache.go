// Package cache implements the two-tier result cache: an in-process memory
// tier with TTL expiry and LRU eviction, backed by an optional external
// key-value store. External-tier failures always degrade to a miss or no-op;
// they are never surfaced to callers.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/nmoreno/cloudlens/internal/core/domain"
	"github.com/nmoreno/cloudlens/internal/core/port"
	"github.com/nmoreno/cloudlens/internal/events"
)

// Options configures a Cache.
type Options struct {
	DefaultTTL           time.Duration
	MaxMemoryBytes       int64
	MaxEntries           int
	CompressionThreshold int
	KeyPrefix            string
	MaxKeyLength         int
}

// Entry is one cached value plus its bookkeeping. The payload is held in
// envelope form (serialized, possibly compressed).
type Entry struct {
	Key          string
	payload      []byte
	CreatedAt    time.Time
	TTL          time.Duration
	Compressed   bool
	AccessCount  int64
	LastAccessed time.Time
	Size         int64
	Hash         string
	Metadata     map[string]string
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int
	MemoryBytes   int64
	Hits          int64
	Misses        int64
	Evictions     int64
	Expirations   int64
	Invalidations int64
}

// Cache is the two-tier result cache.
type Cache struct {
	opts     Options
	codec    *codec
	external port.ExternalStore // nil when the external tier is disabled
	bus      *events.Bus
	inst     port.Instrumentation
	logger   *slog.Logger

	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	memUsed int64
	stats   Stats

	rulesMu sync.RWMutex
	rules   []InvalidationRule
}

func New(opts Options, external port.ExternalStore, bus *events.Bus, inst port.Instrumentation, logger *slog.Logger) (*Cache, error) {
	cod, err := newCodec(opts.CompressionThreshold)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Cache{
		opts:     opts,
		codec:    cod,
		external: external,
		bus:      bus,
		inst:     inst,
		logger:   logger,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}, nil
}

// Get looks a key up in the memory tier, then the external tier, promoting
// external hits into memory. The second return value distinguishes a miss
// from a cached nil, which is a legitimate value.
func (c *Cache) Get(ctx context.Context, key string, opts port.GetOptions) (any, bool) {
	nk := NormalizeKey(c.opts.KeyPrefix, key, c.opts.MaxKeyLength)
	now := time.Now()

	if !opts.SkipMemory {
		if payload, ok := c.memoryGet(nk, now, opts.UpdateAccessTime); ok {
			v, err := c.decodeValue(payload)
			if err != nil {
				c.logger.DebugContext(ctx, "cache decode failed, treating as miss", slog.String("key", nk), slog.Any("error", err))
			} else {
				c.inst.IncrementCacheHits(ctx)
				return v, true
			}
		}
	}

	if c.external != nil && !opts.SkipExternal {
		payload, ttl, err := c.external.Get(ctx, nk)
		if err == nil {
			v, derr := c.decodeValue(payload)
			if derr == nil {
				c.promote(nk, payload, ttl, now)
				c.inst.IncrementCacheHits(ctx)
				return v, true
			}
			c.logger.DebugContext(ctx, "external cache decode failed", slog.String("key", nk), slog.Any("error", derr))
		} else if err != port.ErrCacheMiss {
			c.logger.DebugContext(ctx, "external cache get failed", slog.String("key", nk), slog.Any("error", err))
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	c.inst.IncrementCacheMisses(ctx)
	return nil, false
}

// Set serializes value and writes it to the selected tiers. Values that
// cannot be serialized (cyclic structures included) fail fast without
// touching either tier.
func (c *Cache) Set(ctx context.Context, key string, value any, opts port.SetOptions) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSerialization, err)
	}

	nk := NormalizeKey(c.opts.KeyPrefix, key, c.opts.MaxKeyLength)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	payload, compressed := c.codec.encode(serialized, opts.Compress)
	sum := sha256.Sum256(serialized)

	if !opts.SkipMemory {
		e := &Entry{
			Key:          nk,
			payload:      payload,
			CreatedAt:    time.Now(),
			TTL:          ttl,
			Compressed:   compressed,
			LastAccessed: time.Now(),
			Size:         int64(len(payload)),
			Hash:         hex.EncodeToString(sum[:])[:16],
			Metadata:     opts.Metadata,
		}
		c.memorySet(ctx, e)
	}

	if c.external != nil && !opts.SkipExternal {
		if err := c.external.Set(ctx, nk, payload, ttl); err != nil {
			// Degrade to memory-only; never fail the caller for tier I/O.
			c.logger.DebugContext(ctx, "external cache set failed", slog.String("key", nk), slog.Any("error", err))
		}
	}
	return nil
}

// Invalidate removes an exact key or every key matching a glob pattern
// (`*` and `?`) from both tiers, returning the number of entries removed.
// For an exact key the count equals the number of tiers the key existed in.
func (c *Cache) Invalidate(ctx context.Context, keyOrPattern string, opts port.InvalidateOptions) int {
	removed := 0
	if isPattern(keyOrPattern) {
		pattern := NormalizePattern(c.opts.KeyPrefix, keyOrPattern)
		removed += c.memoryInvalidatePattern(pattern)
		if c.external != nil {
			removed += c.externalInvalidatePattern(ctx, pattern)
		}
	} else {
		nk := NormalizeKey(c.opts.KeyPrefix, keyOrPattern, c.opts.MaxKeyLength)
		if c.memoryDelete(nk) {
			removed++
		}
		if c.external != nil {
			if n, err := c.external.Delete(ctx, nk); err == nil {
				removed += n
			} else {
				c.logger.DebugContext(ctx, "external cache delete failed", slog.String("key", nk), slog.Any("error", err))
			}
		}
	}

	c.mu.Lock()
	c.stats.Invalidations += int64(removed)
	c.mu.Unlock()

	c.bus.PublishCacheInvalidated(events.CacheInvalidated{
		Pattern: keyOrPattern,
		Reason:  opts.Reason,
		Removed: removed,
	})
	return removed
}

// Clear drops every entry in the memory tier.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.memUsed = 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.MemoryBytes = c.memUsed
	return s
}

// Run sweeps TTL-expired entries on interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				c.logger.Debug("cache sweep removed expired entries", slog.Int("removed", n))
			}
		}
	}
}

// SweepExpired removes every TTL-expired entry from the memory tier and
// returns the count removed. The external tier expires entries itself.
func (c *Cache) SweepExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*Entry)
		if e.expired(now) {
			c.removeLocked(el)
			c.stats.Expirations++
			removed++
		}
		el = prev
	}
	return removed
}

// --- memory tier internals ---

func (c *Cache) memoryGet(key string, now time.Time, updateAccess bool) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.expired(now) {
		// Logically absent the moment its TTL elapses, even before a sweep.
		c.removeLocked(el)
		c.stats.Expirations++
		return nil, false
	}
	e.AccessCount++
	if updateAccess {
		e.LastAccessed = now
		c.lru.MoveToFront(el)
	}
	c.stats.Hits++
	return e.payload, true
}

func (c *Cache) memorySet(ctx context.Context, e *Entry) {
	c.mu.Lock()
	if el, ok := c.items[e.Key]; ok {
		c.memUsed -= el.Value.(*Entry).Size
		el.Value = e
		c.memUsed += e.Size
		c.lru.MoveToFront(el)
	} else {
		c.items[e.Key] = c.lru.PushFront(e)
		c.memUsed += e.Size
	}
	evicted := c.evictIfNeededLocked()
	c.mu.Unlock()

	if evicted > 0 {
		c.inst.IncrementCacheEvictions(ctx, int64(evicted))
		c.bus.PublishCacheInvalidated(events.CacheInvalidated{
			Pattern: "*",
			Reason:  "memory_pressure",
			Removed: evicted,
		})
	}
}

// evictIfNeededLocked enforces the entry-count and memory limits by dropping
// the least-recently-used ~10% of entries in one pass.
func (c *Cache) evictIfNeededLocked() int {
	over := func() bool {
		return (c.opts.MaxEntries > 0 && c.lru.Len() > c.opts.MaxEntries) ||
			(c.opts.MaxMemoryBytes > 0 && c.memUsed > c.opts.MaxMemoryBytes)
	}
	if !over() {
		return 0
	}

	target := c.lru.Len() / 10
	if target < 1 {
		target = 1
	}
	evicted := 0
	for (evicted < target || over()) && c.lru.Len() > 0 {
		el := c.lru.Back()
		if el == nil {
			break
		}
		c.removeLocked(el)
		c.stats.Evictions++
		c.stats.Invalidations++ // each eviction counts as a memory-pressure invalidation
		evicted++
	}
	return evicted
}

func (c *Cache) memoryDelete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

func (c *Cache) memoryInvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, el := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

func (c *Cache) externalInvalidatePattern(ctx context.Context, pattern string) int {
	keys, err := c.external.Keys(ctx, pattern)
	if err != nil {
		c.logger.DebugContext(ctx, "external cache scan failed", slog.String("pattern", pattern), slog.Any("error", err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	n, err := c.external.Delete(ctx, keys...)
	if err != nil {
		c.logger.DebugContext(ctx, "external cache delete failed", slog.String("pattern", pattern), slog.Any("error", err))
		return 0
	}
	return n
}

// promote installs an external-tier hit into the memory tier, preserving the
// remaining TTL reported by the store.
func (c *Cache) promote(key string, payload []byte, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	e := &Entry{
		Key:          key,
		payload:      payload,
		CreatedAt:    now,
		TTL:          ttl,
		Compressed:   len(payload) > 0 && payload[0] == markerZstd,
		LastAccessed: now,
		Size:         int64(len(payload)),
	}
	c.memorySet(context.Background(), e)
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*Entry)
	c.lru.Remove(el)
	delete(c.items, e.Key)
	c.memUsed -= e.Size
}

func (c *Cache) decodeValue(payload []byte) (any, error) {
	serialized, err := c.codec.decode(payload)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(serialized, &v); err != nil {
		return nil, fmt.Errorf("decoding cached value: %w", err)
	}
	return v, nil
}
