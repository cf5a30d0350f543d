package port

import (
	"context"
	"time"
)

// QueryOptions tunes a single report query execution.
type QueryOptions struct {
	// UseCache enables the pool-local de-duplication cache (distinct from
	// the shared result cache consulted by the service layer).
	UseCache bool
	CacheTTL time.Duration
	Timeout  time.Duration // 0 means the pool default
	MaxRows  int           // 0 means the pool default
}

// QueryResult is the outcome of one report query execution.
type QueryResult struct {
	Rows     []map[string]any
	Duration time.Duration
	CacheHit bool
}

// RefreshOptions tunes a materialized view refresh at the pool level.
type RefreshOptions struct {
	Force   bool
	Timeout time.Duration // 0 means the refresh default (longer than queries)
}

// ViewStats describes a materialized view's physical footprint after refresh.
type ViewStats struct {
	RecordCount int64
	SizeBytes   int64
	IndexCount  int
}

// ReportExecutor runs read-only analytical queries against the read pool.
type ReportExecutor interface {
	ExecuteReportQuery(ctx context.Context, sql string, params map[string]any, opts QueryOptions) (*QueryResult, error)
}

// AdminExecutor runs DDL and registry statements against the write pool and
// uncached lookups against the read pool. Used by the view scheduler.
type AdminExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	ViewStats(ctx context.Context, name string) (*ViewStats, error)
	// RefreshMaterializedView runs a native in-place refresh, preferring
	// CONCURRENTLY unless opts.Force is set.
	RefreshMaterializedView(ctx context.Context, name string, opts RefreshOptions) (*ViewStats, error)
}
