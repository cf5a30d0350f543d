// Package views holds materialized view definitions, their dependency graph
// and refresh schedules, and orchestrates refreshes through the write pool.
package views

import "time"

// RefreshStrategy is a view's declared refresh approach.
type RefreshStrategy string

const (
	// StrategyFull rebuilds the view from scratch on every refresh.
	StrategyFull RefreshStrategy = "full"
	// StrategyIncremental is declared but not implemented; refreshes fall
	// back to a full rebuild and carry a warning.
	StrategyIncremental RefreshStrategy = "incremental"
	// StrategySmart prefers a native in-place refresh, which keeps the view
	// readable while it rebuilds when a unique index exists.
	StrategySmart RefreshStrategy = "smart"
)

// RefreshMode selects the behavior of one refresh call.
type RefreshMode string

const (
	ModeFull        RefreshMode = "full"
	ModeIncremental RefreshMode = "incremental"
	// ModeAuto resolves to the view's declared strategy.
	ModeAuto RefreshMode = "auto"
)

// Definition describes one registered materialized view.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Query       string          `json:"query"`
	Strategy    RefreshStrategy `json:"strategy"`
	// CronExpr, when non-empty, installs a refresh schedule at registration.
	CronExpr string `json:"cron_expr,omitempty"`
	// Dependencies lists the source tables (and other registered views) this
	// view is derived from. Used for staleness detection and refresh order.
	Dependencies []string `json:"dependencies"`
	// IndexColumns each get a supporting index created after the view.
	IndexColumns []string `json:"index_columns,omitempty"`
	Active       bool     `json:"active"`

	Metadata Metadata `json:"metadata"`
}

// Metadata is the per-view bookkeeping block, mutated by every refresh.
type Metadata struct {
	CreatedAt     time.Time     `json:"created_at"`
	LastRefreshed time.Time     `json:"last_refreshed,omitzero"`
	LastDuration  time.Duration `json:"last_duration"`
	RecordCount   int64         `json:"record_count"`
	SizeBytes     int64         `json:"size_bytes"`
	RefreshCount  int64         `json:"refresh_count"`
	ErrorCount    int64         `json:"error_count"`
	LastError     string        `json:"last_error,omitempty"`
}

// Schedule is the live cron state for one view. A view has at most one.
type Schedule struct {
	View     string    `json:"view"`
	CronExpr string    `json:"cron_expr"`
	Enabled  bool      `json:"enabled"`
	NextRun  time.Time `json:"next_run,omitzero"`
	LastRun  time.Time `json:"last_run,omitzero"`
	RunCount int64     `json:"run_count"`
	Errors   int64     `json:"errors"`
}

// RefreshResult records one refresh attempt. Failures are encoded here, not
// returned as errors, so batch refreshes can report per-item outcome.
type RefreshResult struct {
	View       string        `json:"view"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Records    int64         `json:"records"`
	SizeBytes  int64         `json:"size_bytes"`
	// Performed is the refresh type actually executed, which can differ from
	// the requested mode (incremental falls back to full).
	Performed RefreshMode `json:"performed"`
	Error     string      `json:"error,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
}
