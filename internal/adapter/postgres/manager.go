// Package postgres owns the dual connection pools and every statement that
// reaches the database: report queries on the read pool, view refresh and
// registry writes on the write pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmoreno/cloudlens/internal/core/domain"
	"github.com/nmoreno/cloudlens/internal/core/port"
	"github.com/nmoreno/cloudlens/internal/events"
)

const truncatedSQLLen = 200

// Manager executes queries against two asymmetric pools over one backend.
type Manager struct {
	cfg       Config
	read      *pgxpool.Pool
	write     *pgxpool.Pool
	validator *domain.PgQueryValidator
	local     *localCache
	history   *queryHistory
	bus       *events.Bus
	inst      port.Instrumentation
	auditor   port.QueryAuditor
	logger    *slog.Logger

	healthMu    sync.Mutex
	lastHealth  HealthStatus
	readHealth  healthTracker
	writeHealth healthTracker

	closed atomic.Bool
}

// NewManager establishes both pools and verifies connectivity.
func NewManager(ctx context.Context, cfg Config, bus *events.Bus, inst port.Instrumentation, auditor port.QueryAuditor, logger *slog.Logger) (*Manager, error) {
	read, err := newPool(ctx, cfg.DatabaseURL, cfg.ReadMaxConns, cfg.ReadMinConns, cfg.MaxConnLifetime, cfg.ReadMaxIdle)
	if err != nil {
		return nil, fmt.Errorf("creating read pool: %w", err)
	}
	write, err := newPool(ctx, cfg.DatabaseURL, cfg.WriteMaxConns, cfg.WriteMinConns, cfg.MaxConnLifetime, cfg.WriteMaxIdle)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("creating write pool: %w", err)
	}

	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Manager{
		cfg:       cfg,
		read:      read,
		write:     write,
		validator: domain.NewPgQueryValidator(),
		local:     newLocalCache(1000),
		history:   newQueryHistory(1000),
		bus:       bus,
		inst:      inst,
		auditor:   auditor,
		logger:    logger,
	}, nil
}

// ExecuteReportQuery runs a read-only analytical query on the read pool,
// optionally de-duplicating through the pool-local cache, and always records
// an execution metrics entry. Errors propagate to the caller unmodified
// beyond context wrapping; there is no retry at this layer.
func (m *Manager) ExecuteReportQuery(ctx context.Context, sql string, params map[string]any, opts port.QueryOptions) (*port.QueryResult, error) {
	if m.closed.Load() {
		return nil, domain.ErrClosed
	}
	if err := m.validator.Validate(sql); err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}

	queryID := domain.QueryID(sql, params)

	if opts.UseCache {
		if rows, ok := m.local.get(queryID); ok {
			res := &port.QueryResult{Rows: rows, Duration: 0, CacheHit: true}
			m.record(ctx, queryID, sql, res, nil)
			return res, nil
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.QueryTimeout
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = m.cfg.MaxRows
	}

	start := time.Now()
	rows, err := m.execute(ctx, sql, params, timeout, maxRows)
	res := &port.QueryResult{Rows: rows, Duration: time.Since(start)}
	m.record(ctx, queryID, sql, res, err)
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		m.local.put(queryID, rows, ttl)
	}
	return res, nil
}

func (m *Manager) execute(ctx context.Context, sql string, params map[string]any, timeout time.Duration, maxRows int) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// EXPLAIN statements cannot be wrapped in a subquery.
	wrapped := sql
	if !isExplain(sql) {
		wrapped = fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", sql, maxRows)
	}

	tx, err := m.read.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Enforce the timeout server-side too, so PostgreSQL cancels the query
	// even if the Go context is cancelled first. SET LOCAL scopes to this
	// transaction only.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("setting statement timeout: %w", err)
	}

	var pgRows pgx.Rows
	if len(params) > 0 {
		pgRows, err = tx.Query(ctx, wrapped, pgx.NamedArgs(params))
	} else {
		pgRows, err = tx.Query(ctx, wrapped)
	}
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer pgRows.Close()

	result, err := rowsToMaps(pgRows, maxRows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return result, nil
}

// record appends to the bounded history, emits slow/error signals and writes
// the audit entry. It runs for every execution, cache hits included.
func (m *Manager) record(ctx context.Context, queryID, sql string, res *port.QueryResult, err error) {
	truncated := domain.TruncateSQL(sql, truncatedSQLLen)
	entry := QueryExecutionMetrics{
		QueryID:       queryID,
		SQL:           truncated,
		ExecutionTime: res.Duration,
		RowsReturned:  len(res.Rows),
		Timestamp:     time.Now(),
		CacheHit:      res.CacheHit,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	m.history.append(entry)

	m.inst.RecordQueryDuration(ctx, float64(res.Duration.Milliseconds()))
	if err != nil {
		m.inst.IncrementQueryErrors(ctx)
		m.bus.PublishQueryError(events.QueryError{QueryID: queryID, SQL: truncated, Err: err})
	} else {
		m.inst.IncrementQueryCount(ctx)
		if res.Duration > m.cfg.SlowQueryThreshold {
			m.logger.WarnContext(ctx, "slow query",
				slog.String("query_id", queryID),
				slog.String("db.statement", truncated),
				slog.Duration("duration", res.Duration),
			)
			m.bus.PublishSlowQuery(events.SlowQuery{
				QueryID:   queryID,
				SQL:       truncated,
				Duration:  res.Duration,
				Threshold: m.cfg.SlowQueryThreshold,
			})
		}
	}

	if m.auditor != nil {
		m.auditor.Record(ctx, port.AuditEntry{
			QueryID:      queryID,
			SQL:          truncated,
			RowsReturned: len(res.Rows),
			DurationMS:   res.Duration.Milliseconds(),
			CacheHit:     res.CacheHit,
			Err:          err,
		})
	}
}

// Exec runs a DDL or registry statement on the write pool.
func (m *Manager) Exec(ctx context.Context, sql string, args ...any) error {
	if m.closed.Load() {
		return domain.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	defer cancel()
	if _, err := m.write.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return nil
}

// Query runs an uncached lookup on the read pool without a row cap. Used by
// the view scheduler for registry reads and validation probes.
func (m *Manager) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	if m.closed.Load() {
		return nil, domain.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()
	rows, err := m.read.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()
	return rowsToMaps(rows, 0)
}

// RefreshMaterializedView issues a native refresh on the write pool and
// returns the view's updated statistics via a follow-up read.
func (m *Manager) RefreshMaterializedView(ctx context.Context, name string, opts port.RefreshOptions) (*port.ViewStats, error) {
	if m.closed.Load() {
		return nil, domain.ErrClosed
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.RefreshTimeout
	}
	refreshCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stmt := "REFRESH MATERIALIZED VIEW CONCURRENTLY " + quoteIdent(name)
	if opts.Force {
		stmt = "REFRESH MATERIALIZED VIEW " + quoteIdent(name)
	}
	if _, err := m.write.Exec(refreshCtx, stmt); err != nil {
		if opts.Force {
			return nil, fmt.Errorf("refreshing view %q: %w", name, err)
		}
		// CONCURRENTLY needs a unique index; fall back to a plain refresh.
		if _, err := m.write.Exec(refreshCtx, "REFRESH MATERIALIZED VIEW "+quoteIdent(name)); err != nil {
			return nil, fmt.Errorf("refreshing view %q: %w", name, err)
		}
	}
	return m.ViewStats(ctx, name)
}

// ViewStats reads a materialized view's row count, byte size and index count.
func (m *Manager) ViewStats(ctx context.Context, name string) (*port.ViewStats, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	defer cancel()

	stats := &port.ViewStats{}
	if err := m.read.QueryRow(ctx, fmt.Sprintf(queryViewRowCount, quoteIdent(name))).Scan(&stats.RecordCount); err != nil {
		return nil, fmt.Errorf("counting rows of %q: %w", name, err)
	}
	if err := m.read.QueryRow(ctx, queryViewSize, quoteIdent(name)).Scan(&stats.SizeBytes); err != nil {
		return nil, fmt.Errorf("sizing %q: %w", name, err)
	}
	if err := m.read.QueryRow(ctx, queryViewIndexCount, name).Scan(&stats.IndexCount); err != nil {
		return nil, fmt.Errorf("counting indexes of %q: %w", name, err)
	}
	return stats, nil
}

// RecentQueries returns up to n history entries, newest first.
func (m *Manager) RecentQueries(n int) []QueryExecutionMetrics {
	return m.history.recent(n)
}

// LocalCacheSize reports the pool-local cache occupancy.
func (m *Manager) LocalCacheSize() int {
	return m.local.len()
}

// Close drains both pools and clears all local state.
func (m *Manager) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.read.Close()
	m.write.Close()
	m.local.clear()
}

func isExplain(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "EXPLAIN")
}
