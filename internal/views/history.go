package views

import "sync"

// refreshHistory is a bounded record of refresh results, oldest dropped first.
type refreshHistory struct {
	mu      sync.Mutex
	cap     int
	entries []RefreshResult
	start   int
	count   int
}

func newRefreshHistory(cap int) *refreshHistory {
	if cap <= 0 {
		cap = 1000
	}
	return &refreshHistory{cap: cap, entries: make([]RefreshResult, cap)}
}

func (h *refreshHistory) append(r RefreshResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := (h.start + h.count) % h.cap
	if h.count == h.cap {
		h.start = (h.start + 1) % h.cap
	} else {
		h.count++
	}
	h.entries[idx] = r
}

// recent returns up to n results, newest first.
func (h *refreshHistory) recent(n int) []RefreshResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]RefreshResult, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.start + h.count - 1 - i + h.cap) % h.cap
		out = append(out, h.entries[idx])
	}
	return out
}
