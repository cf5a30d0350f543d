package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database connection.
	DatabaseURL string

	// Connection pools. The read pool takes the larger share because the
	// workload is read-heavy; the write pool is reserved for view refresh
	// and registry writes.
	ReadPoolMaxConns    int32
	ReadPoolMinConns    int32
	WritePoolMaxConns   int32
	WritePoolMinConns   int32
	PoolMaxConnLifetime time.Duration
	ReadPoolMaxIdle     time.Duration
	WritePoolMaxIdle    time.Duration

	// Query execution.
	QueryTimeout           time.Duration
	RefreshTimeout         time.Duration // scheduled refreshes run longer than ad hoc queries
	MaxRows                int
	SlowQueryThreshold     time.Duration
	CriticalQueryThreshold time.Duration

	// Background tasks.
	MetricsInterval     time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	// A pool's reported health flips only after this many consecutive
	// failed (or successful) probes, so one slow probe cannot flap alerts.
	HealthFailureThreshold int
	HealthSuccessThreshold int
	StaleSweepInterval     time.Duration
	AdvisorInterval        time.Duration

	// Result cache.
	CacheEnabled              bool
	CacheDefaultTTL           time.Duration
	CacheMaxMemoryBytes       int64
	CacheMaxEntries           int
	CacheCompressionThreshold int
	CacheKeyPrefix            string
	CacheMaxKeyLength         int
	CacheCleanupInterval      time.Duration
	CacheWarmOnStart          bool
	RulesFile                 string // optional path to invalidation rules YAML

	// External cache tier.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Logging and observability.
	LogLevel    slog.Level
	OTelEnabled bool
	AuditLog    string // path to NDJSON query audit log
}

// Load builds a Config from environment variables and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		ReadPoolMaxConns:    15,
		ReadPoolMinConns:    2,
		WritePoolMaxConns:   5,
		WritePoolMinConns:   1,
		PoolMaxConnLifetime: 30 * time.Minute,
		ReadPoolMaxIdle:     10 * time.Minute,
		WritePoolMaxIdle:    5 * time.Minute,

		QueryTimeout:           30 * time.Second,
		RefreshTimeout:         5 * time.Minute,
		MaxRows:                10000,
		SlowQueryThreshold:     time.Second,
		CriticalQueryThreshold: 5 * time.Second,

		MetricsInterval:        30 * time.Second,
		HealthCheckInterval:    30 * time.Second,
		HealthCheckTimeout:     5 * time.Second,
		HealthFailureThreshold: 3,
		HealthSuccessThreshold: 1,
		StaleSweepInterval:     5 * time.Minute,
		AdvisorInterval:        10 * time.Minute,

		CacheEnabled:              true,
		CacheDefaultTTL:           5 * time.Minute,
		CacheMaxMemoryBytes:       256 << 20,
		CacheMaxEntries:           10000,
		CacheCompressionThreshold: 10 << 10,
		CacheKeyPrefix:            "cloudlens",
		CacheMaxKeyLength:         250,
		CacheCleanupInterval:      time.Minute,

		RedisAddr: "localhost:6379",
	}
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	for _, f := range []func(*Config) error{loadPoolEnvVars, loadQueryEnvVars, loadCacheEnvVars, loadObsEnvVars} {
		if err := f(cfg); err != nil {
			return err
		}
	}
	return nil
}

func loadPoolEnvVars(cfg *Config) error {
	if err := envInt32("READ_POOL_MAX_CONNS", &cfg.ReadPoolMaxConns); err != nil {
		return err
	}
	if err := envInt32("READ_POOL_MIN_CONNS", &cfg.ReadPoolMinConns); err != nil {
		return err
	}
	if err := envInt32("WRITE_POOL_MAX_CONNS", &cfg.WritePoolMaxConns); err != nil {
		return err
	}
	if err := envInt32("WRITE_POOL_MIN_CONNS", &cfg.WritePoolMinConns); err != nil {
		return err
	}
	if err := envDuration("POOL_MAX_CONN_LIFETIME", &cfg.PoolMaxConnLifetime); err != nil {
		return err
	}
	if err := envDuration("READ_POOL_MAX_IDLE", &cfg.ReadPoolMaxIdle); err != nil {
		return err
	}
	return envDuration("WRITE_POOL_MAX_IDLE", &cfg.WritePoolMaxIdle)
}

func loadQueryEnvVars(cfg *Config) error {
	if err := envDuration("QUERY_TIMEOUT", &cfg.QueryTimeout); err != nil {
		return err
	}
	if err := envDuration("REFRESH_TIMEOUT", &cfg.RefreshTimeout); err != nil {
		return err
	}
	if err := envInt("MAX_ROWS", &cfg.MaxRows); err != nil {
		return err
	}
	if err := envDuration("SLOW_QUERY_THRESHOLD", &cfg.SlowQueryThreshold); err != nil {
		return err
	}
	if err := envDuration("CRITICAL_QUERY_THRESHOLD", &cfg.CriticalQueryThreshold); err != nil {
		return err
	}
	if err := envDuration("METRICS_INTERVAL", &cfg.MetricsInterval); err != nil {
		return err
	}
	if err := envDuration("HEALTH_CHECK_INTERVAL", &cfg.HealthCheckInterval); err != nil {
		return err
	}
	if err := envDuration("HEALTH_CHECK_TIMEOUT", &cfg.HealthCheckTimeout); err != nil {
		return err
	}
	if err := envInt("HEALTH_CHECK_FAILURE_THRESHOLD", &cfg.HealthFailureThreshold); err != nil {
		return err
	}
	if err := envInt("HEALTH_CHECK_SUCCESS_THRESHOLD", &cfg.HealthSuccessThreshold); err != nil {
		return err
	}
	if err := envDuration("STALE_SWEEP_INTERVAL", &cfg.StaleSweepInterval); err != nil {
		return err
	}
	return envDuration("ADVISOR_INTERVAL", &cfg.AdvisorInterval)
}

func loadCacheEnvVars(cfg *Config) error {
	if err := envBool("CACHE_ENABLED", &cfg.CacheEnabled); err != nil {
		return err
	}
	if err := envDuration("CACHE_DEFAULT_TTL", &cfg.CacheDefaultTTL); err != nil {
		return err
	}
	if err := envInt64("CACHE_MAX_MEMORY_BYTES", &cfg.CacheMaxMemoryBytes); err != nil {
		return err
	}
	if err := envInt("CACHE_MAX_ENTRIES", &cfg.CacheMaxEntries); err != nil {
		return err
	}
	if err := envInt("CACHE_COMPRESSION_THRESHOLD", &cfg.CacheCompressionThreshold); err != nil {
		return err
	}
	if v := os.Getenv("CACHE_KEY_PREFIX"); v != "" {
		cfg.CacheKeyPrefix = v
	}
	if err := envInt("CACHE_MAX_KEY_LENGTH", &cfg.CacheMaxKeyLength); err != nil {
		return err
	}
	if err := envDuration("CACHE_CLEANUP_INTERVAL", &cfg.CacheCleanupInterval); err != nil {
		return err
	}
	if err := envBool("CACHE_WARM_ON_START", &cfg.CacheWarmOnStart); err != nil {
		return err
	}
	cfg.RulesFile = os.Getenv("INVALIDATION_RULES_FILE")

	if err := envBool("REDIS_ENABLED", &cfg.RedisEnabled); err != nil {
		return err
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	return envInt("REDIS_DB", &cfg.RedisDB)
}

func loadObsEnvVars(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if err := envBool("OTEL_ENABLED", &cfg.OTelEnabled); err != nil {
		return err
	}
	cfg.AuditLog = os.Getenv("AUDIT_LOG")
	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ReadPoolMinConns > cfg.ReadPoolMaxConns {
		return fmt.Errorf("READ_POOL_MIN_CONNS (%d) must not exceed READ_POOL_MAX_CONNS (%d)", cfg.ReadPoolMinConns, cfg.ReadPoolMaxConns)
	}
	if cfg.WritePoolMinConns > cfg.WritePoolMaxConns {
		return fmt.Errorf("WRITE_POOL_MIN_CONNS (%d) must not exceed WRITE_POOL_MAX_CONNS (%d)", cfg.WritePoolMinConns, cfg.WritePoolMaxConns)
	}
	if cfg.SlowQueryThreshold > cfg.CriticalQueryThreshold {
		return fmt.Errorf("SLOW_QUERY_THRESHOLD (%s) must not exceed CRITICAL_QUERY_THRESHOLD (%s)", cfg.SlowQueryThreshold, cfg.CriticalQueryThreshold)
	}
	if cfg.HealthFailureThreshold < 1 {
		return fmt.Errorf("HEALTH_CHECK_FAILURE_THRESHOLD (%d) must be at least 1", cfg.HealthFailureThreshold)
	}
	if cfg.HealthSuccessThreshold < 1 {
		return fmt.Errorf("HEALTH_CHECK_SUCCESS_THRESHOLD (%d) must be at least 1", cfg.HealthSuccessThreshold)
	}
	if cfg.CacheMaxKeyLength < 64 {
		return fmt.Errorf("CACHE_MAX_KEY_LENGTH (%d) must be at least 64", cfg.CacheMaxKeyLength)
	}
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s value %q: must be a non-negative integer", name, v)
	}
	*dst = n
	return nil
}

func envInt32(name string, dst *int32) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s value %q: must be a non-negative integer", name, v)
	}
	*dst = int32(n)
	return nil
}

func envInt64(name string, dst *int64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s value %q: must be a non-negative integer", name, v)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
