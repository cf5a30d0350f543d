package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/cloudlens/internal/core/port"
	"github.com/nmoreno/cloudlens/internal/events"
)

func TestRegisterInvalidationRule_Validation(t *testing.T) {
	c := newTestCache(t, Options{})

	assert.Error(t, c.RegisterInvalidationRule(InvalidationRule{Pattern: "x:*"}), "missing name")
	assert.Error(t, c.RegisterInvalidationRule(InvalidationRule{Name: "r"}), "missing pattern")
	assert.Error(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "r", Pattern: "x:*", Triggers: []TriggerKind{"on_sneeze"},
	}), "unknown trigger")

	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "r", Pattern: "x:*", Triggers: []TriggerKind{TriggerDataChange},
	}))
	assert.Len(t, c.Rules(), 1)
}

func TestRegisterInvalidationRule_ReplacesByName(t *testing.T) {
	c := newTestCache(t, Options{})

	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "r", Pattern: "a:*", Triggers: []TriggerKind{TriggerManual},
	}))
	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "r", Pattern: "b:*", Triggers: []TriggerKind{TriggerManual},
	}))

	rules := c.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "b:*", rules[0].Pattern)
}

func TestTriggerInvalidation_CascadeRunsSynchronously(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))
	require.NoError(t, c.Set(ctx, "report:b", 2, port.SetOptions{}))
	require.NoError(t, c.Set(ctx, "view:x", 3, port.SetOptions{}))

	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "reports", Pattern: "report:*",
		Triggers: []TriggerKind{TriggerDataChange},
		Cascade:  true,
	}))

	removed := c.TriggerInvalidation(ctx, TriggerDataChange, map[string]string{"table": "networks"})
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, "report:a", port.GetOptions{})
	assert.False(t, ok)
	_, ok = c.Get(ctx, "view:x", port.GetOptions{})
	assert.True(t, ok)
}

func TestTriggerInvalidation_BackgroundRuleEventuallyApplies(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))
	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "reports", Pattern: "report:*",
		Triggers: []TriggerKind{TriggerDataChange},
	}))

	removed := c.TriggerInvalidation(ctx, TriggerDataChange, nil)
	assert.Zero(t, removed, "non-cascade rules do not count toward the synchronous total")

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "report:a", port.GetOptions{})
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTriggerInvalidation_IgnoresOtherKinds(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report:a", 1, port.SetOptions{}))
	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "reports", Pattern: "report:*",
		Triggers: []TriggerKind{TriggerTimeBased},
		Cascade:  true,
	}))

	c.TriggerInvalidation(ctx, TriggerManual, nil)

	_, ok := c.Get(ctx, "report:a", port.GetOptions{})
	assert.True(t, ok)
}

func TestTriggerInvalidation_PriorityOrder(t *testing.T) {
	bus := events.NewBus()
	c, err := New(Options{
		DefaultTTL:           time.Minute,
		CompressionThreshold: 10 << 10,
		MaxKeyLength:         250,
	}, nil, bus, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	var order []string
	bus.OnCacheInvalidated(func(e events.CacheInvalidated) {
		order = append(order, e.Pattern)
	})

	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "low", Pattern: "a:*", Priority: 1,
		Triggers: []TriggerKind{TriggerManual}, Cascade: true,
	}))
	require.NoError(t, c.RegisterInvalidationRule(InvalidationRule{
		Name: "high", Pattern: "b:*", Priority: 10,
		Triggers: []TriggerKind{TriggerManual}, Cascade: true,
	}))

	require.NoError(t, c.Set(ctx, "a:1", 1, port.SetOptions{}))
	require.NoError(t, c.Set(ctx, "b:1", 2, port.SetOptions{}))

	removed := c.TriggerInvalidation(ctx, TriggerManual, nil)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"b:*", "a:*"}, order, "higher priority rules apply first")
}
