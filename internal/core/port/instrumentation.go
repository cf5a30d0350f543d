package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordQueryDuration(ctx context.Context, ms float64)
	IncrementQueryCount(ctx context.Context)
	IncrementQueryErrors(ctx context.Context)
	IncrementCacheHits(ctx context.Context)
	IncrementCacheMisses(ctx context.Context)
	IncrementCacheEvictions(ctx context.Context, n int64)
	RecordRefreshDuration(ctx context.Context, ms float64)
	IncrementRefreshErrors(ctx context.Context)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordQueryDuration(context.Context, float64)     {}
func (NoopInstrumentation) IncrementQueryCount(context.Context)              {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context)             {}
func (NoopInstrumentation) IncrementCacheHits(context.Context)               {}
func (NoopInstrumentation) IncrementCacheMisses(context.Context)             {}
func (NoopInstrumentation) IncrementCacheEvictions(context.Context, int64)   {}
func (NoopInstrumentation) RecordRefreshDuration(context.Context, float64)   {}
func (NoopInstrumentation) IncrementRefreshErrors(context.Context)           {}
