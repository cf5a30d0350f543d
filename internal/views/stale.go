package views

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// MarkTableModified records a data change on a base table. The CRUD layer
// calls this after every write so staleness detection has timestamps to
// compare against.
func (m *Manager) MarkTableModified(table string) {
	m.mu.Lock()
	m.modified[table] = time.Now()
	m.mu.Unlock()
}

// StaleViews returns the names of views with at least one dependency modified
// after the view's last refresh. A never-refreshed view counts as stale.
func (m *Manager) StaleViews() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []string
	for name, def := range m.views {
		if !def.Active {
			continue
		}
		if m.isStaleLocked(def) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

func (m *Manager) isStaleLocked(def *Definition) bool {
	if def.Metadata.LastRefreshed.IsZero() {
		return true
	}
	for _, dep := range def.Dependencies {
		if m.lastModifiedLocked(dep).After(def.Metadata.LastRefreshed) {
			return true
		}
	}
	return false
}

// lastModifiedLocked resolves a dependency's last-change time. For another
// registered view that is its last refresh; for a base table, the timestamp
// recorded by MarkTableModified.
func (m *Manager) lastModifiedLocked(dep string) time.Time {
	if v, ok := m.views[dep]; ok {
		return v.Metadata.LastRefreshed
	}
	return m.modified[dep]
}

// RefreshStaleViews refreshes every stale view in dependency order: a view is
// rebuilt only after any stale view it depends on has been rebuilt. Per-view
// failures are recorded in the returned results and do not abort the batch.
func (m *Manager) RefreshStaleViews(ctx context.Context) []RefreshResult {
	stale := m.StaleViews()
	if len(stale) == 0 {
		return nil
	}
	ordered := m.topoOrder(stale)

	results := make([]RefreshResult, 0, len(ordered))
	for _, name := range ordered {
		res, err := m.RefreshView(ctx, name, ModeAuto)
		if err != nil {
			// Dropped between detection and refresh; skip it.
			m.logger.Warn("stale view vanished before refresh", slog.String("view", name))
			continue
		}
		results = append(results, *res)
	}

	m.logger.InfoContext(ctx, "stale view refresh pass complete",
		slog.Int("stale", len(stale)),
		slog.Int("refreshed", len(results)),
	)
	return results
}

// topoOrder sorts the given views so dependencies come before dependents,
// considering edges between registered views only. Ready views are taken in
// name order so the result is deterministic. If a dependency cycle exists the
// cycle members are appended in name order rather than dropped.
func (m *Manager) topoOrder(names []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inSet := make(map[string]bool, len(names))
	for _, n := range names {
		inSet[n] = true
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, n := range names {
		indegree[n] = 0
	}
	for _, n := range names {
		for _, dep := range m.views[n].Dependencies {
			if inSet[dep] {
				indegree[n]++
				dependents[dep] = append(dependents[dep], n)
			}
		}
	}

	var ready []string
	for n, d := range indegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)
		newlyReady := false
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
				newlyReady = true
			}
		}
		if newlyReady {
			sort.Strings(ready)
		}
	}

	if len(ordered) < len(names) {
		var cyclic []string
		for n := range indegree {
			if indegree[n] > 0 {
				cyclic = append(cyclic, n)
			}
		}
		sort.Strings(cyclic)
		m.logger.Warn("dependency cycle among views, refreshing remainder in name order",
			slog.Any("views", cyclic))
		ordered = append(ordered, cyclic...)
	}
	return ordered
}

// RunStaleSweeps refreshes stale views on interval until ctx is cancelled.
func (m *Manager) RunStaleSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshStaleViews(ctx)
		}
	}
}

func (m *Manager) sortedViewsLocked() []Definition {
	out := make([]Definition, 0, len(m.views))
	for _, def := range m.views {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
