package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/cloudlens/internal/core/port"
)

func TestWarm_PartialFailure(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	queries := []WarmQuery{
		{
			Key: "good",
			TTL: time.Minute,
			Loader: func(context.Context) (any, error) {
				return []map[string]any{{"n": 1}}, nil
			},
		},
		{
			Key: "bad",
			TTL: time.Minute,
			Loader: func(context.Context) (any, error) {
				return nil, errors.New("backend unavailable")
			},
		},
	}

	results := c.Warm(ctx, queries, 2)
	require.Len(t, results, 2)

	byKey := map[string]WarmResult{}
	for _, r := range results {
		byKey[r.Key] = r
	}
	assert.NoError(t, byKey["good"].Err)
	assert.Error(t, byKey["bad"].Err, "one failing item must not prevent others")

	_, ok := c.Get(ctx, "good", port.GetOptions{})
	assert.True(t, ok)
	_, ok = c.Get(ctx, "bad", port.GetOptions{})
	assert.False(t, ok)
}

func TestWarm_PriorityOrdersExecution(t *testing.T) {
	c := newTestCache(t, Options{})

	var order []string
	record := func(key string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) {
			order = append(order, key)
			return key, nil
		}
	}

	queries := []WarmQuery{
		{Key: "low", Priority: 1, Loader: record("low")},
		{Key: "high", Priority: 10, Loader: record("high")},
		{Key: "mid", Priority: 5, Loader: record("mid")},
	}

	// Run with concurrency 1 so start order is observable.
	c.Warm(context.Background(), queries, 1)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}
