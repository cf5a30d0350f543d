package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/cloudlens/internal/cache"
	"github.com/nmoreno/cloudlens/internal/core/port"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingExecutor struct {
	mu    sync.Mutex
	calls int
	rows  []map[string]any
	err   error
	delay time.Duration
}

func (e *countingExecutor) ExecuteReportQuery(_ context.Context, _ string, _ map[string]any, _ port.QueryOptions) (*port.QueryResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return &port.QueryResult{Rows: e.rows, Duration: 25 * time.Millisecond}, nil
}

func (e *countingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestService(t *testing.T, exec port.ReportExecutor) *ReportService {
	t.Helper()
	c, err := cache.New(cache.Options{
		DefaultTTL:           time.Minute,
		MaxMemoryBytes:       1 << 20,
		MaxEntries:           100,
		CompressionThreshold: 1 << 10,
		MaxKeyLength:         250,
	}, nil, nil, nil, testLogger())
	require.NoError(t, err)
	return NewReportService(exec, c, nil, time.Minute, testLogger())
}

func TestExecuteReportQuery_SecondCallServedFromCache(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"region": "us-east", "total": float64(12)}}}
	svc := newTestService(t, exec)
	ctx := context.Background()

	const sql = "SELECT region, count(*) AS total FROM networks GROUP BY region"
	params := map[string]any{"tenant": "acme"}
	opts := port.QueryOptions{UseCache: true}

	first, err := svc.ExecuteReportQuery(ctx, sql, params, opts)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, exec.callCount())

	second, err := svc.ExecuteReportQuery(ctx, sql, params, opts)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Zero(t, second.Duration, "cached answers carry no execution time")
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, 1, exec.callCount(), "the backend runs once for identical queries")
}

func TestExecuteReportQuery_DifferentParamsAreDifferentEntries(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"n": float64(1)}}}
	svc := newTestService(t, exec)
	ctx := context.Background()

	const sql = "SELECT count(*) AS n FROM networks WHERE region = @region"
	_, err := svc.ExecuteReportQuery(ctx, sql, map[string]any{"region": "us-east"}, port.QueryOptions{UseCache: true})
	require.NoError(t, err)
	_, err = svc.ExecuteReportQuery(ctx, sql, map[string]any{"region": "eu-west"}, port.QueryOptions{UseCache: true})
	require.NoError(t, err)

	assert.Equal(t, 2, exec.callCount())
}

func TestExecuteReportQuery_CacheDisabledBypasses(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"n": float64(1)}}}
	svc := newTestService(t, exec)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := svc.ExecuteReportQuery(ctx, "SELECT 1", nil, port.QueryOptions{UseCache: false})
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, 2, exec.callCount())
}

func TestExecuteReportQuery_NilCacheGoesDirect(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"n": float64(1)}}}
	svc := NewReportService(exec, nil, nil, time.Minute, testLogger())

	res, err := svc.ExecuteReportQuery(context.Background(), "SELECT 1", nil, port.QueryOptions{UseCache: true})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 1, exec.callCount())
}

func TestExecuteReportQuery_ExecutorErrorPropagates(t *testing.T) {
	exec := &countingExecutor{err: errors.New("connection refused")}
	svc := newTestService(t, exec)

	_, err := svc.ExecuteReportQuery(context.Background(), "SELECT 1", nil, port.QueryOptions{UseCache: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	// Errors are not cached; the next call tries the backend again.
	_, err = svc.ExecuteReportQuery(context.Background(), "SELECT 1", nil, port.QueryOptions{UseCache: true})
	require.Error(t, err)
	assert.Equal(t, 2, exec.callCount())
}

func TestExecuteReportQuery_UnserializableResultStillReturned(t *testing.T) {
	loop := map[string]any{}
	loop["self"] = loop
	exec := &countingExecutor{rows: []map[string]any{loop}}
	svc := newTestService(t, exec)

	res, err := svc.ExecuteReportQuery(context.Background(), "SELECT 1", nil, port.QueryOptions{UseCache: true})
	require.NoError(t, err, "a cache write failure must not fail the query")
	assert.False(t, res.CacheHit)
}

func TestExecuteReportQuery_CoalescesConcurrentMisses(t *testing.T) {
	exec := &countingExecutor{
		rows:  []map[string]any{{"n": float64(1)}},
		delay: 20 * time.Millisecond,
	}
	svc := newTestService(t, exec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteReportQuery(ctx, "SELECT 1", nil, port.QueryOptions{UseCache: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exec.callCount(), "concurrent identical misses share one execution")
}

func TestInvalidateQuery(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"n": float64(1)}}}
	svc := newTestService(t, exec)
	ctx := context.Background()

	const sql = "SELECT count(*) AS n FROM networks"
	opts := port.QueryOptions{UseCache: true}

	_, err := svc.ExecuteReportQuery(ctx, sql, nil, opts)
	require.NoError(t, err)

	svc.InvalidateQuery(ctx, sql, nil)

	res, err := svc.ExecuteReportQuery(ctx, sql, nil, opts)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, exec.callCount(), "invalidation forces a fresh execution")
}

func TestExecuteReportQuery_CustomTTLExpires(t *testing.T) {
	exec := &countingExecutor{rows: []map[string]any{{"n": float64(1)}}}
	svc := newTestService(t, exec)
	ctx := context.Background()

	opts := port.QueryOptions{UseCache: true, CacheTTL: 10 * time.Millisecond}
	_, err := svc.ExecuteReportQuery(ctx, "SELECT 1", nil, opts)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	res, err := svc.ExecuteReportQuery(ctx, "SELECT 1", nil, opts)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, exec.callCount())
}
