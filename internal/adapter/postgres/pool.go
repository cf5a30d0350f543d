package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config sizes the two pools and sets the execution defaults.
type Config struct {
	DatabaseURL string

	// The read pool takes the larger share of connections and tolerates
	// longer idle times; the write pool is reserved for view refresh and
	// registry writes.
	ReadMaxConns  int32
	ReadMinConns  int32
	WriteMaxConns int32
	WriteMinConns int32

	MaxConnLifetime time.Duration
	ReadMaxIdle     time.Duration
	WriteMaxIdle    time.Duration

	QueryTimeout       time.Duration
	RefreshTimeout     time.Duration
	MaxRows            int
	SlowQueryThreshold time.Duration

	// Health probes run within HealthCheckTimeout; reported health flips
	// only after the configured number of consecutive disagreeing probes.
	HealthCheckTimeout     time.Duration
	HealthFailureThreshold int
	HealthSuccessThreshold int
}

// newPool builds one pgx pool with the given sizing against the shared URL.
func newPool(ctx context.Context, databaseURL string, maxConns, minConns int32, lifetime, maxIdle time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = lifetime
	cfg.MaxConnIdleTime = maxIdle

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database (10s timeout): %w", err)
	}
	return pool, nil
}
