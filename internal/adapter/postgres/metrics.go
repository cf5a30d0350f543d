package postgres

import (
	"context"
	"log/slog"
	"time"
)

// PoolStat is a point-in-time snapshot of one pool.
type PoolStat struct {
	TotalConns    int32   `json:"total_conns"`
	IdleConns     int32   `json:"idle_conns"`
	AcquiredConns int32   `json:"acquired_conns"`
	MaxConns      int32   `json:"max_conns"`
	Utilization   float64 `json:"utilization"`
}

// PoolMetrics aggregates both pools plus the retained query history.
type PoolMetrics struct {
	Read            PoolStat      `json:"read"`
	Write           PoolStat      `json:"write"`
	AvgQueryTime    time.Duration `json:"avg_query_time"`
	SlowQueries     int           `json:"slow_queries"`
	LocalCacheSize  int           `json:"local_cache_size"`
	CollectedAt     time.Time     `json:"collected_at"`
}

// Metrics snapshots both pools and the history summary.
func (m *Manager) Metrics() PoolMetrics {
	avg, slow := m.history.summary(m.cfg.SlowQueryThreshold)
	return PoolMetrics{
		Read:           poolStat(m.read.Stat()),
		Write:          poolStat(m.write.Stat()),
		AvgQueryTime:   avg,
		SlowQueries:    slow,
		LocalCacheSize: m.local.len(),
		CollectedAt:    time.Now(),
	}
}

type stater interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
}

func poolStat(s stater) PoolStat {
	st := PoolStat{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
	}
	if st.MaxConns > 0 {
		st.Utilization = float64(st.AcquiredConns) / float64(st.MaxConns)
	}
	return st
}

// RunMetrics logs a pool snapshot on every tick until ctx is cancelled. High
// read-pool utilization is promoted to a warning so saturation shows up
// without a metrics backend attached.
func (m *Manager) RunMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.closed.Load() {
				return
			}
			snap := m.Metrics()
			level := slog.LevelDebug
			if snap.Read.Utilization > 0.8 {
				level = slog.LevelWarn
			}
			m.logger.Log(ctx, level, "pool metrics",
				slog.Int("read_acquired", int(snap.Read.AcquiredConns)),
				slog.Int("read_idle", int(snap.Read.IdleConns)),
				slog.Float64("read_utilization", snap.Read.Utilization),
				slog.Int("write_acquired", int(snap.Write.AcquiredConns)),
				slog.Float64("write_utilization", snap.Write.Utilization),
				slog.Duration("avg_query_time", snap.AvgQueryTime),
				slog.Int("slow_queries", snap.SlowQueries),
				slog.Int("local_cache_size", snap.LocalCacheSize),
			)
		}
	}
}
