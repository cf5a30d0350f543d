package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nmoreno/cloudlens/internal/core/port"
)

// TriggerKind classifies the event that fires invalidation rules.
type TriggerKind string

const (
	TriggerDataChange     TriggerKind = "data_change"
	TriggerTimeBased      TriggerKind = "time_based"
	TriggerManual         TriggerKind = "manual"
	TriggerMemoryPressure TriggerKind = "memory_pressure"
)

var validTriggers = map[TriggerKind]bool{
	TriggerDataChange: true, TriggerTimeBased: true,
	TriggerManual: true, TriggerMemoryPressure: true,
}

// InvalidationRule maps a trigger kind and key pattern to cache entries that
// should be removed when that trigger fires.
type InvalidationRule struct {
	Name     string
	Pattern  string // glob over un-prefixed keys, `*` and `?`
	Triggers []TriggerKind
	Priority int // higher wins: applied first
	// Cascade rules run synchronously inside TriggerInvalidation, so the
	// triggering write observes their completion. Non-cascade rules run
	// best-effort in the background.
	Cascade bool
}

func (r InvalidationRule) matches(kind TriggerKind) bool {
	for _, t := range r.Triggers {
		if t == kind {
			return true
		}
	}
	return false
}

// RegisterInvalidationRule adds or replaces a named rule.
func (c *Cache) RegisterInvalidationRule(rule InvalidationRule) error {
	if rule.Name == "" {
		return fmt.Errorf("invalidation rule needs a name")
	}
	if rule.Pattern == "" {
		return fmt.Errorf("invalidation rule %q needs a pattern", rule.Name)
	}
	for _, t := range rule.Triggers {
		if !validTriggers[t] {
			return fmt.Errorf("invalidation rule %q: unknown trigger %q", rule.Name, t)
		}
	}

	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	for i, existing := range c.rules {
		if existing.Name == rule.Name {
			c.rules[i] = rule
			return nil
		}
	}
	c.rules = append(c.rules, rule)
	return nil
}

// TriggerInvalidation applies every rule registered for kind, highest
// priority first. info carries trigger context (e.g. the table that changed)
// for logging. It returns the number of entries removed by cascade
// (synchronous) rules; non-cascade rules are applied in the background.
func (c *Cache) TriggerInvalidation(ctx context.Context, kind TriggerKind, info map[string]string) int {
	c.rulesMu.RLock()
	matched := make([]InvalidationRule, 0, len(c.rules))
	for _, r := range c.rules {
		if r.matches(kind) {
			matched = append(matched, r)
		}
	}
	c.rulesMu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })

	removed := 0
	for _, r := range matched {
		if r.Cascade {
			removed += c.Invalidate(ctx, r.Pattern, port.InvalidateOptions{Reason: string(kind)})
			continue
		}
		rule := r
		go func() {
			n := c.Invalidate(context.Background(), rule.Pattern, port.InvalidateOptions{Reason: string(kind)})
			c.logger.Debug("background invalidation applied",
				slog.String("rule", rule.Name), slog.Int("removed", n))
		}()
	}
	return removed
}

// Rules returns a copy of the registered rules.
func (c *Cache) Rules() []InvalidationRule {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	out := make([]InvalidationRule, len(c.rules))
	copy(out, c.rules)
	return out
}
