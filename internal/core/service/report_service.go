// Package service wires the report executor to the shared result cache.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nmoreno/cloudlens/internal/core/domain"
	"github.com/nmoreno/cloudlens/internal/core/port"
)

const queryKeyPrefix = "query:"

// ReportService answers report queries cache-first: the shared result cache
// is consulted before the executor, and concurrent identical misses are
// coalesced into a single backend execution.
type ReportService struct {
	executor port.ReportExecutor
	cache    port.ResultCache
	inst     port.Instrumentation
	logger   *slog.Logger

	defaultTTL time.Duration
	group      singleflight.Group
}

// NewReportService builds a ReportService. cache may be nil, in which case
// every query goes to the executor.
func NewReportService(executor port.ReportExecutor, cache port.ResultCache, inst port.Instrumentation, defaultTTL time.Duration, logger *slog.Logger) *ReportService {
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &ReportService{
		executor:   executor,
		cache:      cache,
		inst:       inst,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// ExecuteReportQuery runs a report query through the shared result cache.
// opts.UseCache here selects the shared cache; the executor's own pool-local
// cache stays disabled because this layer already de-duplicates.
func (s *ReportService) ExecuteReportQuery(ctx context.Context, sql string, params map[string]any, opts port.QueryOptions) (*port.QueryResult, error) {
	if s.cache == nil || !opts.UseCache {
		return s.executeDirect(ctx, sql, params, opts)
	}

	key := queryKeyPrefix + domain.QueryID(sql, params)
	if v, ok := s.cache.Get(ctx, key, port.GetOptions{UpdateAccessTime: true}); ok {
		if rows, ok := rowsFromCached(v); ok {
			return &port.QueryResult{Rows: rows, Duration: 0, CacheHit: true}, nil
		}
		s.logger.DebugContext(ctx, "cached result had unexpected shape, re-executing",
			slog.String("key", key))
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		res, err := s.executeDirect(ctx, sql, params, opts)
		if err != nil {
			return nil, err
		}
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = s.defaultTTL
		}
		if serr := s.cache.Set(ctx, key, res.Rows, port.SetOptions{TTL: ttl}); serr != nil {
			// A non-serializable result is still a valid result.
			s.logger.WarnContext(ctx, "failed to cache query result",
				slog.String("key", key), slog.Any("error", serr))
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*port.QueryResult), nil
}

func (s *ReportService) executeDirect(ctx context.Context, sql string, params map[string]any, opts port.QueryOptions) (*port.QueryResult, error) {
	opts.UseCache = false
	return s.executor.ExecuteReportQuery(ctx, sql, params, opts)
}

// InvalidateQuery drops a specific query's cached result, if a cache is wired.
func (s *ReportService) InvalidateQuery(ctx context.Context, sql string, params map[string]any) {
	if s.cache == nil {
		return
	}
	key := queryKeyPrefix + domain.QueryID(sql, params)
	s.cache.Invalidate(ctx, key, port.InvalidateOptions{Reason: "manual"})
}

// rowsFromCached rebuilds row maps from a cache round-trip, where JSON
// decoding yields []any of map[string]any.
func rowsFromCached(v any) ([]map[string]any, bool) {
	switch rows := v.(type) {
	case nil:
		return nil, true
	case []map[string]any:
		return rows, true
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
