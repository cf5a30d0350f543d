package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanStep is one node of a parsed execution plan, flattened depth-first.
type PlanStep struct {
	NodeType    string  `json:"node_type"`
	Relation    string  `json:"relation,omitempty"`
	Index       string  `json:"index,omitempty"`
	StartupCost float64 `json:"startup_cost"`
	TotalCost   float64 `json:"total_cost"`
	PlanRows    int64   `json:"plan_rows"`
	Depth       int     `json:"depth"`
}

// ExecutionPlan is the structured form of an EXPLAIN (FORMAT JSON) result.
type ExecutionPlan struct {
	Steps           []PlanStep `json:"steps"`
	EstimatedCost   float64    `json:"estimated_cost"`
	EstimatedRows   int64      `json:"estimated_rows"`
	IndexesUsed     []string   `json:"indexes_used,omitempty"`
	FullScanTables  []string   `json:"full_scan_tables,omitempty"`
	HasTempOps      bool       `json:"has_temp_ops"`
	HasExternalSort bool       `json:"has_external_sort"`
}

// ParseExplainJSON parses the single json value returned by
// EXPLAIN (FORMAT JSON). The value arrives either as raw JSON text or as the
// already-decoded document, depending on the driver's codec.
func ParseExplainJSON(v any) (*ExecutionPlan, error) {
	doc, err := decodeExplainDoc(v)
	if err != nil {
		return nil, err
	}

	top, ok := doc["Plan"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: explain output has no Plan node", ErrParseFailed)
	}

	plan := &ExecutionPlan{
		EstimatedCost: num(top["Total Cost"]),
		EstimatedRows: int64(num(top["Plan Rows"])),
	}
	walkPlanNode(top, 0, plan)
	return plan, nil
}

func decodeExplainDoc(v any) (map[string]any, error) {
	var arr []any
	switch t := v.(type) {
	case string:
		if err := json.Unmarshal([]byte(t), &arr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	case []byte:
		if err := json.Unmarshal(t, &arr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	case []any:
		arr = t
	case map[string]any:
		arr = []any{t}
	default:
		return nil, fmt.Errorf("%w: unexpected explain value type %T", ErrParseFailed, v)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: empty explain output", ErrParseFailed)
	}
	doc, ok := arr[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected explain document shape", ErrParseFailed)
	}
	return doc, nil
}

func walkPlanNode(node map[string]any, depth int, plan *ExecutionPlan) {
	step := PlanStep{
		NodeType:    str(node["Node Type"]),
		Relation:    str(node["Relation Name"]),
		Index:       str(node["Index Name"]),
		StartupCost: num(node["Startup Cost"]),
		TotalCost:   num(node["Total Cost"]),
		PlanRows:    int64(num(node["Plan Rows"])),
		Depth:       depth,
	}
	plan.Steps = append(plan.Steps, step)

	switch {
	case step.NodeType == "Seq Scan" && step.Relation != "":
		plan.FullScanTables = appendUnique(plan.FullScanTables, step.Relation)
	case step.Index != "":
		plan.IndexesUsed = appendUnique(plan.IndexesUsed, step.Index)
	}
	switch step.NodeType {
	case "Materialize", "Hash", "HashAggregate", "WindowAgg":
		plan.HasTempOps = true
	case "Sort":
		if strings.Contains(str(node["Sort Method"]), "external") {
			plan.HasExternalSort = true
			plan.HasTempOps = true
		}
	}

	children, _ := node["Plans"].([]any)
	for _, c := range children {
		if child, ok := c.(map[string]any); ok {
			walkPlanNode(child, depth+1, plan)
		}
	}
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func num(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
