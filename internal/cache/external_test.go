package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/cloudlens/internal/core/port"
)

// fakeStore is an in-memory port.ExternalStore with scriptable failures.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]fakeItem
	getErr  error
	setErr  error
	delErr  error
	keysErr error
}

type fakeItem struct {
	payload []byte
	ttl     time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]fakeItem)}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, time.Duration, error) {
	if s.getErr != nil {
		return nil, 0, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.data[key]
	if !ok {
		return nil, 0, port.ErrCacheMiss
	}
	return item.payload, item.ttl, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	s.data[key] = fakeItem{payload: value, ttl: ttl}
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, keys ...string) (int, error) {
	if s.delErr != nil {
		return 0, s.delErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Keys(_ context.Context, pattern string) ([]string, error) {
	if s.keysErr != nil {
		return nil, s.keysErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTieredCache(t *testing.T, store port.ExternalStore) *Cache {
	t.Helper()
	c, err := New(Options{
		DefaultTTL:           time.Minute,
		CompressionThreshold: 10 << 10,
		MaxKeyLength:         250,
	}, store, nil, nil, testLogger())
	require.NoError(t, err)
	return c
}

func TestExternalTier_SetWritesBothTiers(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", map[string]any{"n": 1}, port.SetOptions{}))
	assert.Equal(t, 1, store.len())

	// The external copy is readable on its own.
	v, ok := c.Get(ctx, "report:a", port.GetOptions{SkipMemory: true})
	require.True(t, ok)
	decoded, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), decoded["n"])
}

func TestExternalTier_HitPromotesIntoMemoryPreservingTTL(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	// Seed only the external tier, as if another process populated it.
	require.NoError(t, c.Set(ctx, "report:shared", []any{"x"}, port.SetOptions{
		SkipMemory: true,
		TTL:        30 * time.Second,
	}))

	v, ok := c.Get(ctx, "report:shared", port.GetOptions{})
	require.True(t, ok, "external hit answers the read")

	nk := NormalizeKey("", "report:shared", 250)
	c.mu.Lock()
	el, promoted := c.items[nk]
	c.mu.Unlock()
	require.True(t, promoted, "external hit lands in the memory tier")
	assert.Equal(t, 30*time.Second, el.Value.(*Entry).TTL, "remaining TTL carries over")

	// The promoted copy now serves reads without the external tier.
	v2, ok := c.Get(ctx, "report:shared", port.GetOptions{SkipExternal: true})
	require.True(t, ok)
	assert.Equal(t, v, v2)
}

func TestExternalTier_GetErrorDegradesToMiss(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{SkipMemory: true}))
	store.getErr = errors.New("connection reset")

	_, ok := c.Get(ctx, "report:a", port.GetOptions{})
	assert.False(t, ok, "tier I/O failure reads as a miss, never an error")
}

func TestExternalTier_SetErrorDegradesToMemoryOnly(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("read-only replica")
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}), "external write failure never fails Set")
	assert.Zero(t, store.len())

	v, ok := c.Get(ctx, "report:a", port.GetOptions{SkipExternal: true})
	require.True(t, ok, "memory tier still holds the value")
	assert.Equal(t, float64(1), v)
}

func TestExternalTier_ExactInvalidationCountsBothTiers(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))

	removed := c.Invalidate(ctx, "report:a", port.InvalidateOptions{Reason: "manual"})
	assert.Equal(t, 2, removed, "one entry per tier")
	assert.Zero(t, store.len())
	_, ok := c.Get(ctx, "report:a", port.GetOptions{})
	assert.False(t, ok)
}

func TestExternalTier_DeleteErrorCountsMemoryOnly(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))
	store.delErr = errors.New("connection reset")

	removed := c.Invalidate(ctx, "report:a", port.InvalidateOptions{})
	assert.Equal(t, 1, removed)
}

func TestExternalTier_PatternInvalidationSweepsBothTiers(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	for _, key := range []string{"report:a", "report:b", "other:c"} {
		require.NoError(t, c.Set(ctx, key, 1, port.SetOptions{}))
	}

	removed := c.Invalidate(ctx, "report:*", port.InvalidateOptions{Reason: "data_change"})
	assert.Equal(t, 4, removed, "two matching keys in each tier")
	assert.Equal(t, 1, store.len(), "non-matching external keys survive")

	_, ok := c.Get(ctx, "other:c", port.GetOptions{})
	assert.True(t, ok)
}

func TestExternalTier_ScanErrorCountsMemoryOnly(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))
	store.keysErr = errors.New("scan aborted")

	removed := c.Invalidate(ctx, "report:*", port.InvalidateOptions{})
	assert.Equal(t, 1, removed)
}

func TestExternalTier_SkipExternalWritesMemoryOnly(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{SkipExternal: true}))
	assert.Zero(t, store.len())

	_, ok := c.Get(ctx, "report:a", port.GetOptions{SkipMemory: true})
	assert.False(t, ok)
}

func TestExternalTier_CorruptPayloadDegradesToMiss(t *testing.T) {
	store := newFakeStore()
	c := newTieredCache(t, store)
	ctx := context.Background()

	nk := NormalizeKey("", "report:bad", 250)
	require.NoError(t, store.Set(ctx, nk, []byte{0xff, 0x01, 0x02}, time.Minute))

	_, ok := c.Get(ctx, "report:bad", port.GetOptions{})
	assert.False(t, ok, "an undecodable external payload is a miss")
}
