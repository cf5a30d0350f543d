package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	got := 0
	bus.OnSlowQuery(func(SlowQuery) { got++ })
	bus.OnSlowQuery(func(SlowQuery) { got++ })

	bus.PublishSlowQuery(SlowQuery{QueryID: "abc", Duration: 2 * time.Second})
	assert.Equal(t, 2, got)
}

func TestBus_DeliveryIsSynchronous(t *testing.T) {
	bus := NewBus()

	var seen []string
	bus.OnCacheInvalidated(func(e CacheInvalidated) {
		seen = append(seen, e.Pattern)
	})

	bus.PublishCacheInvalidated(CacheInvalidated{Pattern: "report:*", Removed: 3})

	// The publisher returns only after every subscriber has run.
	assert.Equal(t, []string{"report:*"}, seen)
}

func TestBus_TypedChannelsAreIndependent(t *testing.T) {
	bus := NewBus()

	slow, errs := 0, 0
	bus.OnSlowQuery(func(SlowQuery) { slow++ })
	bus.OnQueryError(func(QueryError) { errs++ })

	bus.PublishQueryError(QueryError{QueryID: "q", Err: errors.New("boom")})
	assert.Zero(t, slow)
	assert.Equal(t, 1, errs)
}

func TestBus_NoSubscribersIsANoOp(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.PublishViewRefreshed(ViewRefreshed{View: "v", Success: true})
		bus.PublishHealthChanged(HealthChanged{Pool: "read", Healthy: false})
	})
}
