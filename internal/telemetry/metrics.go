package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/nmoreno/cloudlens"

// Instruments holds pre-created OTel metric instruments for the query path,
// the result cache and the view scheduler.
type Instruments struct {
	QueryCount      metric.Int64Counter
	QueryDuration   metric.Float64Histogram
	QueryErrors     metric.Int64Counter
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	CacheEvictions  metric.Int64Counter
	RefreshDuration metric.Float64Histogram
	RefreshErrors   metric.Int64Counter
}

// NewInstruments creates metric instruments from the global MeterProvider.
// Returns nil-safe instruments: if creation fails, noop instruments are used.
func NewInstruments() *Instruments {
	meter := otel.Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	meter := noop.NewMeterProvider().Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	queryCount, _ := meter.Int64Counter("cloudlens.query.count",
		metric.WithDescription("Total number of report queries executed"),
	)
	queryDuration, _ := meter.Float64Histogram("cloudlens.query.duration",
		metric.WithDescription("Report query execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("cloudlens.query.errors",
		metric.WithDescription("Total number of failed report queries"),
	)
	cacheHits, _ := meter.Int64Counter("cloudlens.cache.hits",
		metric.WithDescription("Result cache hits across both tiers"),
	)
	cacheMisses, _ := meter.Int64Counter("cloudlens.cache.misses",
		metric.WithDescription("Result cache misses"),
	)
	cacheEvictions, _ := meter.Int64Counter("cloudlens.cache.evictions",
		metric.WithDescription("Entries evicted from the memory tier under pressure"),
	)
	refreshDuration, _ := meter.Float64Histogram("cloudlens.view.refresh.duration",
		metric.WithDescription("Materialized view refresh duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	refreshErrors, _ := meter.Int64Counter("cloudlens.view.refresh.errors",
		metric.WithDescription("Total number of failed view refreshes"),
	)

	return &Instruments{
		QueryCount:      queryCount,
		QueryDuration:   queryDuration,
		QueryErrors:     queryErrors,
		CacheHits:       cacheHits,
		CacheMisses:     cacheMisses,
		CacheEvictions:  cacheEvictions,
		RefreshDuration: refreshDuration,
		RefreshErrors:   refreshErrors,
	}
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryCount(ctx context.Context) {
	i.QueryCount.Add(ctx, 1)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}

func (i *Instruments) IncrementCacheHits(ctx context.Context) {
	i.CacheHits.Add(ctx, 1)
}

func (i *Instruments) IncrementCacheMisses(ctx context.Context) {
	i.CacheMisses.Add(ctx, 1)
}

func (i *Instruments) IncrementCacheEvictions(ctx context.Context, n int64) {
	i.CacheEvictions.Add(ctx, n)
}

func (i *Instruments) RecordRefreshDuration(ctx context.Context, ms float64) {
	i.RefreshDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementRefreshErrors(ctx context.Context) {
	i.RefreshErrors.Add(ctx, 1)
}
