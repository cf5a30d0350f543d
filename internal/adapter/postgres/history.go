package postgres

import (
	"sync"
	"time"
)

// QueryExecutionMetrics is one recorded query execution.
type QueryExecutionMetrics struct {
	QueryID       string        `json:"query_id"`
	SQL           string        `json:"sql"` // truncated
	ExecutionTime time.Duration `json:"execution_time"`
	RowsReturned  int           `json:"rows_returned"`
	Timestamp     time.Time     `json:"timestamp"`
	CacheHit      bool          `json:"cache_hit"`
	Error         string        `json:"error,omitempty"`
}

// queryHistory is a bounded append-only record of executions; the oldest
// entry is dropped once the cap is reached.
type queryHistory struct {
	mu      sync.Mutex
	cap     int
	entries []QueryExecutionMetrics
	start   int // ring head
	count   int
}

func newQueryHistory(cap int) *queryHistory {
	if cap <= 0 {
		cap = 1000
	}
	return &queryHistory{cap: cap, entries: make([]QueryExecutionMetrics, cap)}
}

func (h *queryHistory) append(m QueryExecutionMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := (h.start + h.count) % h.cap
	if h.count == h.cap {
		h.start = (h.start + 1) % h.cap
	} else {
		h.count++
	}
	h.entries[idx] = m
}

// recent returns up to n entries, newest first.
func (h *queryHistory) recent(n int) []QueryExecutionMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]QueryExecutionMetrics, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.start + h.count - 1 - i + h.cap) % h.cap
		out = append(out, h.entries[idx])
	}
	return out
}

// summary aggregates the retained history.
func (h *queryHistory) summary(slowThreshold time.Duration) (avg time.Duration, slow int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0, 0
	}
	var total time.Duration
	for i := 0; i < h.count; i++ {
		e := h.entries[(h.start+i)%h.cap]
		total += e.ExecutionTime
		if e.ExecutionTime > slowThreshold {
			slow++
		}
	}
	return total / time.Duration(h.count), slow
}
