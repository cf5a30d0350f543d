package domain

import (
	"fmt"
	"sort"
	"time"
)

type SuggestionType string

const (
	SuggestIndex            SuggestionType = "index"
	SuggestQueryRewrite     SuggestionType = "query_rewrite"
	SuggestPartition        SuggestionType = "partition"
	SuggestCaching          SuggestionType = "caching"
	SuggestMaterializedView SuggestionType = "materialized_view"
	SuggestDenormalization  SuggestionType = "denormalization"
)

type SuggestionPriority string

const (
	PriorityLow      SuggestionPriority = "low"
	PriorityMedium   SuggestionPriority = "medium"
	PriorityHigh     SuggestionPriority = "high"
	PriorityCritical SuggestionPriority = "critical"
)

var priorityRank = map[SuggestionPriority]int{
	PriorityLow: 0, PriorityMedium: 1, PriorityHigh: 2, PriorityCritical: 3,
}

// OptimizationSuggestion is one actionable recommendation produced by the
// analyzer.
type OptimizationSuggestion struct {
	Type                 SuggestionType     `json:"type"`
	Priority             SuggestionPriority `json:"priority"`
	Description          string             `json:"description"`
	Implementation       string             `json:"implementation"`
	EstimatedImprovement string             `json:"estimated_improvement"`
	Effort               string             `json:"effort"`
	Statement            string             `json:"statement,omitempty"`
}

// QueryPerformance captures one measured execution of a query.
type QueryPerformance struct {
	ExecutionTime time.Duration `json:"execution_time"`
	RowsReturned  int           `json:"rows_returned"`
	MeasuredAt    time.Time     `json:"measured_at"`
}

// ResourceUsage is a coarse estimate derived from the planner's cost model.
type ResourceUsage struct {
	EstimatedMemoryBytes int64  `json:"estimated_memory_bytes"`
	CPUClass             string `json:"cpu_class"` // low, medium, high
}

// QueryAnalysis is the full output of analyzing a single query.
type QueryAnalysis struct {
	QueryID      string                   `json:"query_id"`
	SQL          string                   `json:"sql"`
	RewrittenSQL string                   `json:"rewritten_sql,omitempty"`
	Fingerprint  string                   `json:"fingerprint,omitempty"`
	Plan         *ExecutionPlan           `json:"plan,omitempty"`
	Suggestions  []OptimizationSuggestion `json:"suggestions,omitempty"`
	Performance  QueryPerformance         `json:"performance"`
	Complexity   Complexity               `json:"complexity"`
	Resources    ResourceUsage            `json:"resources"`
	AnalyzedAt   time.Time                `json:"analyzed_at"`
}

// DeriveSuggestions applies the suggestion rules to a parsed plan, a
// complexity score and a measured execution, returning suggestions ranked by
// descending priority.
func DeriveSuggestions(plan *ExecutionPlan, cx Complexity, perf QueryPerformance, slow, critical time.Duration) []OptimizationSuggestion {
	var out []OptimizationSuggestion

	if plan != nil {
		for _, tbl := range plan.FullScanTables {
			out = append(out, OptimizationSuggestion{
				Type:                 SuggestIndex,
				Priority:             PriorityHigh,
				Description:          fmt.Sprintf("Full table scan on %q", tbl),
				Implementation:       "Add an index covering the filter and join columns used against this table.",
				EstimatedImprovement: "10-100x on selective filters",
				Effort:               "low",
				Statement:            fmt.Sprintf("CREATE INDEX idx_%s_reporting ON %s (/* filter columns */);", tbl, tbl),
			})
		}
	}

	if cx.Subqueries >= 3 {
		out = append(out, OptimizationSuggestion{
			Type:                 SuggestQueryRewrite,
			Priority:             PriorityMedium,
			Description:          fmt.Sprintf("Query contains %d subqueries", cx.Subqueries),
			Implementation:       "Flatten subqueries into joins or CTEs to give the planner more freedom.",
			EstimatedImprovement: "2-5x",
			Effort:               "medium",
		})
	}

	if cx.Aggregates > 0 && perf.ExecutionTime > slow {
		out = append(out, OptimizationSuggestion{
			Type:                 SuggestCaching,
			Priority:             PriorityMedium,
			Description:          "Slow aggregation is a strong caching candidate",
			Implementation:       "Execute through the result cache with a TTL matching the report's freshness requirement.",
			EstimatedImprovement: "near-elimination of repeat cost",
			Effort:               "low",
		})
	}

	if cx.Aggregates > 0 && cx.Joins > 0 {
		out = append(out, OptimizationSuggestion{
			Type:                 SuggestMaterializedView,
			Priority:             PriorityMedium,
			Description:          "Aggregation over joins suits a materialized view",
			Implementation:       "Register the query as a materialized view with a scheduled refresh.",
			EstimatedImprovement: "10-1000x for repeated reads",
			Effort:               "medium",
		})
	}

	if perf.ExecutionTime > critical {
		out = append(out, OptimizationSuggestion{
			Type:                 SuggestQueryRewrite,
			Priority:             PriorityCritical,
			Description:          fmt.Sprintf("Execution took %s, over the critical threshold %s", perf.ExecutionTime, critical),
			Implementation:       "Restructure the query; verify filters are sargable and row estimates are sane.",
			EstimatedImprovement: "required to meet latency targets",
			Effort:               "high",
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] > priorityRank[out[j].Priority]
	})
	return out
}

// EstimateResources maps planner cost onto a coarse resource class.
func EstimateResources(plan *ExecutionPlan) ResourceUsage {
	if plan == nil {
		return ResourceUsage{CPUClass: "low"}
	}
	r := ResourceUsage{
		// work_mem-style heuristic: a page per hundred cost units.
		EstimatedMemoryBytes: int64(plan.EstimatedCost/100) * 8192,
	}
	switch {
	case plan.EstimatedCost > 100000:
		r.CPUClass = "high"
	case plan.EstimatedCost > 1000:
		r.CPUClass = "medium"
	default:
		r.CPUClass = "low"
	}
	return r
}
