package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nmoreno/cloudlens/internal/core/port"
	"golang.org/x/sync/errgroup"
)

// WarmQuery is one cache-warming job: a loader that produces the value for a
// key. Higher priority loads first.
type WarmQuery struct {
	Key      string
	TTL      time.Duration
	Priority int
	Loader   func(ctx context.Context) (any, error)
}

// WarmResult is the per-item outcome of a warming batch.
type WarmResult struct {
	Key      string
	Err      error
	Duration time.Duration
}

// Warm executes the loaders in priority order with at most concurrency
// in-flight at a time and populates the cache. Individual failures are
// recorded per item and never abort the batch.
func (c *Cache) Warm(ctx context.Context, queries []WarmQuery, concurrency int) []WarmResult {
	if concurrency < 1 {
		concurrency = 4
	}
	ordered := make([]WarmQuery, len(queries))
	copy(ordered, queries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	results := make([]WarmResult, len(ordered))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, q := range ordered {
		i, q := i, q
		g.Go(func() error {
			start := time.Now()
			value, err := q.Loader(gctx)
			if err == nil {
				err = c.Set(gctx, q.Key, value, port.SetOptions{TTL: q.TTL})
			}
			mu.Lock()
			results[i] = WarmResult{Key: q.Key, Err: err, Duration: time.Since(start)}
			mu.Unlock()
			if err != nil {
				c.logger.Debug("cache warm item failed", slog.String("key", q.Key), slog.Any("error", err))
			}
			return nil // per-item failures never abort the batch
		})
	}
	_ = g.Wait()
	return results
}
