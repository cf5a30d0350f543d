package port

import "context"

// AuditEntry represents a single auditable report-query event.
type AuditEntry struct {
	QueryID      string
	SQL          string // truncated
	RowsReturned int
	DurationMS   int64
	CacheHit     bool
	Err          error
}

// QueryAuditor records query audit events.
type QueryAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}
