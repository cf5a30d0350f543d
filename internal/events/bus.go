// Package events carries typed notifications between the reporting core's
// components. Delivery is synchronous: a publisher returns only after every
// subscriber has run, so invalidation triggered by a write completes before
// the write is considered done.
package events

import (
	"sync"
	"time"
)

// SlowQuery fires when a report query exceeds the slow-query threshold.
type SlowQuery struct {
	QueryID   string
	SQL       string // truncated
	Duration  time.Duration
	Threshold time.Duration
}

// QueryError fires when a report query fails. The error still propagates to
// the caller; this is for alerting consumers.
type QueryError struct {
	QueryID string
	SQL     string // truncated
	Err     error
}

// CacheInvalidated fires after an invalidation pass removed entries.
type CacheInvalidated struct {
	Pattern string
	Reason  string
	Removed int
}

// ViewRefreshed fires after every refresh attempt, successful or not.
type ViewRefreshed struct {
	View     string
	Success  bool
	Duration time.Duration
	Records  int64
	Err      error
}

// HealthChanged fires when a pool health check flips state.
type HealthChanged struct {
	Pool    string // "read" or "write"
	Healthy bool
	Latency time.Duration
}

// Bus is a typed observer registry. Handlers must be fast and must not block;
// they run on the publisher's goroutine.
type Bus struct {
	mu              sync.RWMutex
	slowQuery       []func(SlowQuery)
	queryError      []func(QueryError)
	cacheInvalidate []func(CacheInvalidated)
	viewRefreshed   []func(ViewRefreshed)
	healthChanged   []func(HealthChanged)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnSlowQuery(fn func(SlowQuery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slowQuery = append(b.slowQuery, fn)
}

func (b *Bus) OnQueryError(fn func(QueryError)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryError = append(b.queryError, fn)
}

func (b *Bus) OnCacheInvalidated(fn func(CacheInvalidated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cacheInvalidate = append(b.cacheInvalidate, fn)
}

func (b *Bus) OnViewRefreshed(fn func(ViewRefreshed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewRefreshed = append(b.viewRefreshed, fn)
}

func (b *Bus) OnHealthChanged(fn func(HealthChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthChanged = append(b.healthChanged, fn)
}

func (b *Bus) PublishSlowQuery(e SlowQuery) {
	b.mu.RLock()
	handlers := b.slowQuery
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (b *Bus) PublishQueryError(e QueryError) {
	b.mu.RLock()
	handlers := b.queryError
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (b *Bus) PublishCacheInvalidated(e CacheInvalidated) {
	b.mu.RLock()
	handlers := b.cacheInvalidate
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (b *Bus) PublishViewRefreshed(e ViewRefreshed) {
	b.mu.RLock()
	handlers := b.viewRefreshed
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (b *Bus) PublishHealthChanged(e HealthChanged) {
	b.mu.RLock()
	handlers := b.healthChanged
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}
