package cache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Triggers []string `yaml:"triggers"`
	Priority int      `yaml:"priority"`
	Cascade  bool     `yaml:"cascade"`
}

// LoadRulesFile reads a YAML invalidation-rules file and returns validated
// rules ready for registration.
func LoadRulesFile(path string) ([]InvalidationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules YAML: %w", err)
	}

	rules := make([]InvalidationRule, 0, len(rf.Rules))
	for i, spec := range rf.Rules {
		if spec.Name == "" {
			return nil, fmt.Errorf("rules[%d]: missing name", i)
		}
		if spec.Pattern == "" {
			return nil, fmt.Errorf("rules[%d] (%q): missing pattern", i, spec.Name)
		}
		triggers := make([]TriggerKind, 0, len(spec.Triggers))
		for _, t := range spec.Triggers {
			kind := TriggerKind(t)
			if !validTriggers[kind] {
				return nil, fmt.Errorf("rules[%d] (%q): invalid trigger %q (allowed: data_change, time_based, manual, memory_pressure)", i, spec.Name, t)
			}
			triggers = append(triggers, kind)
		}
		rules = append(rules, InvalidationRule{
			Name:     spec.Name,
			Pattern:  spec.Pattern,
			Triggers: triggers,
			Priority: spec.Priority,
			Cascade:  spec.Cascade,
		})
	}
	return rules, nil
}
