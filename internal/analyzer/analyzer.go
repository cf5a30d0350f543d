// Package analyzer turns execution plans, structural complexity and measured
// latency into ranked optimization suggestions. Analysis is advisory: it must
// never block or fail the primary query path, so every enrichment step
// degrades to "absent" on error.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nmoreno/cloudlens/internal/core/domain"
	"github.com/nmoreno/cloudlens/internal/core/port"
)

// Options tunes one analysis call.
type Options struct {
	IncludeExecutionPlan bool
	IncludeSuggestions   bool
	// Baseline records this execution's latency as the reference point that
	// later optimized executions are compared against.
	Baseline bool
	Timeout  time.Duration
}

// Analyzer measures and scores report queries through the read pool.
type Analyzer struct {
	executor port.ReportExecutor
	logger   *slog.Logger

	slowThreshold     time.Duration
	criticalThreshold time.Duration
	maxMemo           int

	mu        sync.Mutex
	analyses  map[string]*domain.QueryAnalysis
	order     []string // memo insertion order, oldest first
	baselines map[string]time.Duration
	groups    map[string]*fingerprintGroup
}

// fingerprintGroup accumulates per-shape stats across analyses. Queries that
// differ only in parameter values share a group.
type fingerprintGroup struct {
	count        int
	totalLatency time.Duration
	sampleSQL    string
}

func New(executor port.ReportExecutor, slow, critical time.Duration, logger *slog.Logger) *Analyzer {
	if slow <= 0 {
		slow = time.Second
	}
	if critical <= 0 {
		critical = 5 * time.Second
	}
	return &Analyzer{
		executor:          executor,
		logger:            logger,
		slowThreshold:     slow,
		criticalThreshold: critical,
		maxMemo:           500,
		analyses:          make(map[string]*domain.QueryAnalysis),
		baselines:         make(map[string]time.Duration),
		groups:            make(map[string]*fingerprintGroup),
	}
}

// AnalyzeQuery produces a QueryAnalysis: plan (optional), static complexity,
// one measured execution, and derived suggestions (optional). The result is
// memoized by query id for ExecuteOptimizedQuery and history mining.
func (a *Analyzer) AnalyzeQuery(ctx context.Context, sql string, params map[string]any, opts Options) (*domain.QueryAnalysis, error) {
	analysis := &domain.QueryAnalysis{
		QueryID:    domain.QueryID(sql, params),
		SQL:        sql,
		AnalyzedAt: time.Now(),
	}

	if fp, err := domain.StructuralFingerprint(sql); err == nil {
		analysis.Fingerprint = fp
	} else {
		a.logger.DebugContext(ctx, "fingerprint failed", slog.Any("error", err))
	}

	if opts.IncludeExecutionPlan {
		plan, err := a.explainQuery(ctx, sql, params, opts.Timeout)
		if err != nil {
			a.logger.WarnContext(ctx, "plan collection failed, continuing without plan",
				slog.String("query_id", analysis.QueryID), slog.Any("error", err))
		} else {
			analysis.Plan = plan
		}
	}

	analysis.Complexity = domain.ScoreComplexity(sql)

	res, err := a.executor.ExecuteReportQuery(ctx, sql, params, port.QueryOptions{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("measuring query: %w", err)
	}
	analysis.Performance = domain.QueryPerformance{
		ExecutionTime: res.Duration,
		RowsReturned:  len(res.Rows),
		MeasuredAt:    time.Now(),
	}
	analysis.Resources = domain.EstimateResources(analysis.Plan)

	if opts.IncludeSuggestions {
		analysis.Suggestions = domain.DeriveSuggestions(
			analysis.Plan, analysis.Complexity, analysis.Performance,
			a.slowThreshold, a.criticalThreshold,
		)
	}

	a.memoize(analysis, opts.Baseline)
	return analysis, nil
}

// explainQuery asks the backend for a structured plan without running the
// query to completion.
func (a *Analyzer) explainQuery(ctx context.Context, sql string, params map[string]any, timeout time.Duration) (*domain.ExecutionPlan, error) {
	res, err := a.executor.ExecuteReportQuery(ctx, "EXPLAIN (FORMAT JSON) "+sql, params, port.QueryOptions{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: explain returned no rows", domain.ErrParseFailed)
	}
	// EXPLAIN (FORMAT JSON) yields one row with a single "QUERY PLAN" column.
	for _, v := range res.Rows[0] {
		return domain.ParseExplainJSON(v)
	}
	return nil, fmt.Errorf("%w: explain returned no columns", domain.ErrParseFailed)
}

func (a *Analyzer) memoize(analysis *domain.QueryAnalysis, baseline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.analyses[analysis.QueryID]; !exists {
		a.order = append(a.order, analysis.QueryID)
	}
	a.analyses[analysis.QueryID] = analysis
	for len(a.order) > a.maxMemo {
		oldest := a.order[0]
		a.order = a.order[1:]
		delete(a.analyses, oldest)
		delete(a.baselines, oldest)
	}

	if _, have := a.baselines[analysis.QueryID]; baseline || !have {
		a.baselines[analysis.QueryID] = analysis.Performance.ExecutionTime
	}

	if analysis.Fingerprint != "" {
		g := a.groups[analysis.Fingerprint]
		if g == nil {
			g = &fingerprintGroup{sampleSQL: analysis.SQL}
			a.groups[analysis.Fingerprint] = g
		}
		g.count++
		g.totalLatency += analysis.Performance.ExecutionTime
	}
}

// CachedAnalysis returns the memoized analysis for a query, if one exists.
func (a *Analyzer) CachedAnalysis(sql string, params map[string]any) (*domain.QueryAnalysis, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	analysis, ok := a.analyses[domain.QueryID(sql, params)]
	return analysis, ok
}

// OptimizedResult is the outcome of an optimized execution, including how it
// compares to the captured baseline for the same query id.
type OptimizedResult struct {
	Analysis       *domain.QueryAnalysis `json:"analysis"`
	Result         *port.QueryResult     `json:"result"`
	UsedRewrite    bool                  `json:"used_rewrite"`
	ImprovementPct float64               `json:"improvement_pct"`
}

// ExecuteOptimizedQuery reuses the memoized analysis unless force is set,
// executes the rewritten statement when the analysis produced one, and reports
// the latency improvement versus the captured baseline.
func (a *Analyzer) ExecuteOptimizedQuery(ctx context.Context, sql string, params map[string]any, force bool) (*OptimizedResult, error) {
	analysis, ok := a.CachedAnalysis(sql, params)
	if force || !ok {
		fresh, err := a.AnalyzeQuery(ctx, sql, params, Options{
			IncludeExecutionPlan: true,
			IncludeSuggestions:   true,
		})
		if err != nil {
			return nil, err
		}
		analysis = fresh
	}

	runSQL := sql
	usedRewrite := false
	if analysis.RewrittenSQL != "" {
		runSQL = analysis.RewrittenSQL
		usedRewrite = true
	}

	res, err := a.executor.ExecuteReportQuery(ctx, runSQL, params, port.QueryOptions{})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	baseline := a.baselines[analysis.QueryID]
	a.mu.Unlock()

	out := &OptimizedResult{Analysis: analysis, Result: res, UsedRewrite: usedRewrite}
	if baseline > 0 {
		out.ImprovementPct = (float64(baseline-res.Duration) / float64(baseline)) * 100
	}
	return out, nil
}
