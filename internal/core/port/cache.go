package port

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by ExternalStore implementations when a key is
// absent. It is distinct from a stored nil value, which is a legitimate hit.
var ErrCacheMiss = errors.New("cache miss")

// ExternalStore is the optional second cache tier (e.g. Redis). Implementations
// must treat their own I/O failures as recoverable: callers degrade to the
// in-process tier on any error.
type ExternalStore interface {
	// Get returns the stored value and its remaining TTL (0 when the key
	// has no expiry).
	Get(ctx context.Context, key string) ([]byte, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// GetOptions controls tier selection on cache reads.
type GetOptions struct {
	SkipMemory       bool
	SkipExternal     bool
	UpdateAccessTime bool
}

// SetOptions controls tier selection, expiry and compression on cache writes.
type SetOptions struct {
	TTL          time.Duration // 0 means the configured default
	SkipMemory   bool
	SkipExternal bool
	Compress     *bool // nil means "by size threshold"
	Metadata     map[string]string
}

// InvalidateOptions annotates an invalidation pass.
type InvalidateOptions struct {
	Reason string
}

// ResultCache is the surface the report service needs from the result cache.
type ResultCache interface {
	Get(ctx context.Context, key string, opts GetOptions) (any, bool)
	Set(ctx context.Context, key string, value any, opts SetOptions) error
	// Invalidate removes an exact key or every key matching a glob pattern
	// from all tiers, returning the number of entries removed.
	Invalidate(ctx context.Context, keyOrPattern string, opts InvalidateOptions) int
}
