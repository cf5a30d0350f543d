package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoreno/cloudlens/internal/core/port"
)

func TestNoopInstruments_SatisfyInstrumentationPort(t *testing.T) {
	var inst port.Instrumentation = NoopInstruments()
	require.NotNil(t, inst)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		inst.IncrementQueryCount(ctx)
		inst.RecordQueryDuration(ctx, 12.5)
		inst.IncrementQueryErrors(ctx)
		inst.IncrementCacheHits(ctx)
		inst.IncrementCacheMisses(ctx)
		inst.IncrementCacheEvictions(ctx, 3)
		inst.RecordRefreshDuration(ctx, 250)
		inst.IncrementRefreshErrors(ctx)
	})
}

func TestNewInstruments_CreatesEveryInstrument(t *testing.T) {
	inst := NewInstruments()
	require.NotNil(t, inst)
	assert.NotNil(t, inst.QueryCount)
	assert.NotNil(t, inst.QueryDuration)
	assert.NotNil(t, inst.QueryErrors)
	assert.NotNil(t, inst.CacheHits)
	assert.NotNil(t, inst.CacheMisses)
	assert.NotNil(t, inst.CacheEvictions)
	assert.NotNil(t, inst.RefreshDuration)
	assert.NotNil(t, inst.RefreshErrors)
}
