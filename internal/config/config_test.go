package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int32(15), cfg.ReadPoolMaxConns)
	assert.Equal(t, int32(5), cfg.WritePoolMaxConns)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RefreshTimeout)
	assert.Equal(t, 10000, cfg.MaxRows)
	assert.Equal(t, time.Second, cfg.SlowQueryThreshold)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckTimeout)
	assert.Equal(t, 3, cfg.HealthFailureThreshold)
	assert.Equal(t, 1, cfg.HealthSuccessThreshold)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheDefaultTTL)
	assert.Equal(t, int64(256<<20), cfg.CacheMaxMemoryBytes)
	assert.Equal(t, "cloudlens", cfg.CacheKeyPrefix)
	assert.Equal(t, 250, cfg.CacheMaxKeyLength)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")
	t.Setenv("READ_POOL_MAX_CONNS", "30")
	t.Setenv("QUERY_TIMEOUT", "10s")
	t.Setenv("CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HEALTH_CHECK_TIMEOUT", "2s")
	t.Setenv("HEALTH_CHECK_FAILURE_THRESHOLD", "5")
	t.Setenv("HEALTH_CHECK_SUCCESS_THRESHOLD", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int32(30), cfg.ReadPoolMaxConns)
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 90*time.Second, cfg.CacheDefaultTTL)
	assert.False(t, cfg.CacheEnabled)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.HealthCheckTimeout)
	assert.Equal(t, 5, cfg.HealthFailureThreshold)
	assert.Equal(t, 2, cfg.HealthSuccessThreshold)
}

func TestLoad_ValidatesHealthThresholds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")

	t.Run("HEALTH_CHECK_FAILURE_THRESHOLD", func(t *testing.T) {
		t.Setenv("HEALTH_CHECK_FAILURE_THRESHOLD", "0")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("HEALTH_CHECK_SUCCESS_THRESHOLD", func(t *testing.T) {
		t.Setenv("HEALTH_CHECK_SUCCESS_THRESHOLD", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_ValidatesPoolSizing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")
	t.Setenv("READ_POOL_MIN_CONNS", "20")
	t.Setenv("READ_POOL_MAX_CONNS", "10")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READ_POOL_MIN_CONNS")
}

func TestLoad_ValidatesThresholdOrdering(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")
	t.Setenv("SLOW_QUERY_THRESHOLD", "10s")
	t.Setenv("CRITICAL_QUERY_THRESHOLD", "5s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cloudlens")

	cases := map[string]string{
		"QUERY_TIMEOUT":       "soon",
		"MAX_ROWS":            "-5",
		"READ_POOL_MAX_CONNS": "lots",
		"CACHE_ENABLED":       "si",
		"LOG_LEVEL":           "loud",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
