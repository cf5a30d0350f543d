package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_Roundtrip(t *testing.T) {
	c := newLocalCache(10)

	rows := []map[string]any{{"id": 1}}
	c.put("q1", rows, time.Minute)

	got, ok := c.get("q1")
	require.True(t, ok)
	assert.Equal(t, rows, got)

	_, ok = c.get("absent")
	assert.False(t, ok)
}

func TestLocalCache_TTLExpiry(t *testing.T) {
	c := newLocalCache(10)
	c.put("q1", nil, 5*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	_, ok := c.get("q1")
	assert.False(t, ok)
	assert.Zero(t, c.len(), "expired entries are removed on access")
}

func TestLocalCache_EvictsOldestWhenFull(t *testing.T) {
	c := newLocalCache(20)
	for i := 0; i < 20; i++ {
		c.put(fmt.Sprintf("q%d", i), nil, time.Minute)
		time.Sleep(time.Millisecond) // distinct createdAt ordering
	}

	c.put("q20", nil, time.Minute)

	assert.LessOrEqual(t, c.len(), 20)
	_, ok := c.get("q0")
	assert.False(t, ok, "the oldest entry goes first")
	_, ok = c.get("q20")
	assert.True(t, ok)
}

func TestLocalCache_Clear(t *testing.T) {
	c := newLocalCache(10)
	c.put("q1", nil, time.Minute)
	c.clear()
	assert.Zero(t, c.len())
}
