package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/nmoreno/cloudlens/internal/core/domain"
)

// slowAnalysisWindow bounds how far back the miners look.
const slowAnalysisWindow = 50

// GenerateIndexSuggestions mines the memoized analyses for tables that keep
// showing up as full scans in slow queries. When tables is non-empty only
// those tables are considered. Suggestions are deduplicated per table and
// ranked by how bad the observed latency was and how often the scan recurred.
func (a *Analyzer) GenerateIndexSuggestions(tables []string) []domain.OptimizationSuggestion {
	wanted := make(map[string]bool, len(tables))
	for _, t := range tables {
		wanted[t] = true
	}

	type scanStats struct {
		count      int
		maxLatency time.Duration
	}
	stats := make(map[string]*scanStats)

	for _, analysis := range a.recentSlow(slowAnalysisWindow) {
		if analysis.Plan == nil {
			continue
		}
		for _, tbl := range analysis.Plan.FullScanTables {
			if len(wanted) > 0 && !wanted[tbl] {
				continue
			}
			s := stats[tbl]
			if s == nil {
				s = &scanStats{}
				stats[tbl] = s
			}
			s.count++
			if analysis.Performance.ExecutionTime > s.maxLatency {
				s.maxLatency = analysis.Performance.ExecutionTime
			}
		}
	}

	out := make([]domain.OptimizationSuggestion, 0, len(stats))
	for tbl, s := range stats {
		priority := domain.PriorityMedium
		switch {
		case s.maxLatency > a.criticalThreshold:
			priority = domain.PriorityCritical
		case s.count >= 3 || s.maxLatency > a.slowThreshold:
			priority = domain.PriorityHigh
		}
		out = append(out, domain.OptimizationSuggestion{
			Type:                 domain.SuggestIndex,
			Priority:             priority,
			Description:          fmt.Sprintf("Table %q was fully scanned by %d slow queries (worst: %s)", tbl, s.count, s.maxLatency),
			Implementation:       "Add an index covering the columns those queries filter and join on.",
			EstimatedImprovement: "10-100x on selective filters",
			Effort:               "low",
			Statement:            fmt.Sprintf("CREATE INDEX idx_%s_reporting ON %s (/* filter columns */);", tbl, tbl),
		})
	}
	sortSuggestions(out)
	return out
}

// GenerateMaterializedViewSuggestions groups analyzed queries by structural
// fingerprint and suggests a materialized view for every shape analyzed at
// least three times, with priority scaling with the group's average latency.
func (a *Analyzer) GenerateMaterializedViewSuggestions() []domain.OptimizationSuggestion {
	a.mu.Lock()
	groups := make(map[string]fingerprintGroup, len(a.groups))
	for fp, g := range a.groups {
		groups[fp] = *g
	}
	a.mu.Unlock()

	var out []domain.OptimizationSuggestion
	for fp, g := range groups {
		if g.count < 3 {
			continue
		}
		avg := g.totalLatency / time.Duration(g.count)
		priority := domain.PriorityLow
		switch {
		case avg > a.criticalThreshold:
			priority = domain.PriorityCritical
		case avg > a.slowThreshold:
			priority = domain.PriorityHigh
		case avg > a.slowThreshold/2:
			priority = domain.PriorityMedium
		}
		out = append(out, domain.OptimizationSuggestion{
			Type:                 domain.SuggestMaterializedView,
			Priority:             priority,
			Description:          fmt.Sprintf("Query shape %s ran %d times averaging %s", fp, g.count, avg),
			Implementation:       "Register this query as a materialized view with a refresh schedule matching its freshness needs.",
			EstimatedImprovement: "10-1000x for repeated reads",
			Effort:               "medium",
			Statement:            fmt.Sprintf("-- source query:\n-- %s", domain.TruncateSQL(g.sampleSQL, 200)),
		})
	}
	sortSuggestions(out)
	return out
}

// recentSlow returns up to limit memoized analyses over the slow threshold,
// newest first.
func (a *Analyzer) recentSlow(limit int) []*domain.QueryAnalysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*domain.QueryAnalysis, 0, limit)
	for i := len(a.order) - 1; i >= 0 && len(out) < limit; i-- {
		analysis := a.analyses[a.order[i]]
		if analysis != nil && analysis.Performance.ExecutionTime > a.slowThreshold {
			out = append(out, analysis)
		}
	}
	return out
}

var priorityOrder = map[domain.SuggestionPriority]int{
	domain.PriorityLow: 0, domain.PriorityMedium: 1,
	domain.PriorityHigh: 2, domain.PriorityCritical: 3,
}

func sortSuggestions(s []domain.OptimizationSuggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if priorityOrder[s[i].Priority] != priorityOrder[s[j].Priority] {
			return priorityOrder[s[i].Priority] > priorityOrder[s[j].Priority]
		}
		return s[i].Description < s[j].Description
	})
}
