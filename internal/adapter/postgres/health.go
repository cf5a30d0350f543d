package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/nmoreno/cloudlens/internal/events"
)

// HealthStatus is the outcome of one connectivity probe across both pools.
type HealthStatus struct {
	ReadHealthy  bool          `json:"read_healthy"`
	WriteHealthy bool          `json:"write_healthy"`
	Latency      time.Duration `json:"latency"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Healthy reports whether both pools answered the probe.
func (s HealthStatus) Healthy() bool {
	return s.ReadHealthy && s.WriteHealthy
}

// healthTracker debounces one pool's probe outcomes: the tracked state flips
// only after failThreshold consecutive failures or succThreshold consecutive
// successes, so a single slow probe cannot flap alerts.
type healthTracker struct {
	healthy     bool
	initialized bool
	streak      int // consecutive probes disagreeing with the tracked state
}

// observe records one probe outcome and reports whether the tracked state
// flipped. The first observation seeds the state without reporting a flip.
func (t *healthTracker) observe(ok bool, failThreshold, succThreshold int) bool {
	if !t.initialized {
		t.initialized = true
		t.healthy = ok
		return false
	}
	if ok == t.healthy {
		t.streak = 0
		return false
	}
	t.streak++
	threshold := failThreshold
	if ok {
		threshold = succThreshold
	}
	if t.streak >= threshold {
		t.healthy = ok
		t.streak = 0
		return true
	}
	return false
}

// CheckHealth pings both pools within the configured health-check timeout and
// publishes a HealthChanged signal when a pool's debounced state flips.
func (m *Manager) CheckHealth(ctx context.Context) HealthStatus {
	timeout := m.cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status := HealthStatus{
		ReadHealthy:  m.read.Ping(ctx) == nil,
		WriteHealthy: m.write.Ping(ctx) == nil,
		CheckedAt:    start,
	}
	status.Latency = time.Since(start)

	failN, succN := m.cfg.HealthFailureThreshold, m.cfg.HealthSuccessThreshold
	if failN < 1 {
		failN = 1
	}
	if succN < 1 {
		succN = 1
	}

	m.healthMu.Lock()
	m.lastHealth = status
	readFlipped := m.readHealth.observe(status.ReadHealthy, failN, succN)
	writeFlipped := m.writeHealth.observe(status.WriteHealthy, failN, succN)
	m.healthMu.Unlock()

	if readFlipped {
		m.reportFlip(ctx, "read", status.ReadHealthy, status.Latency)
	}
	if writeFlipped {
		m.reportFlip(ctx, "write", status.WriteHealthy, status.Latency)
	}
	return status
}

func (m *Manager) reportFlip(ctx context.Context, pool string, healthy bool, latency time.Duration) {
	if healthy {
		m.logger.InfoContext(ctx, "pool connectivity restored",
			slog.String("pool", pool), slog.Duration("latency", latency))
	} else {
		m.logger.ErrorContext(ctx, "pool connectivity lost", slog.String("pool", pool))
	}
	m.bus.PublishHealthChanged(events.HealthChanged{
		Pool:    pool,
		Healthy: healthy,
		Latency: latency,
	})
}

// LastHealth returns the most recent probe result without issuing a new one.
func (m *Manager) LastHealth() HealthStatus {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return m.lastHealth
}

// RunHealthChecks probes periodically until ctx is cancelled. A probe that
// overruns the interval causes the next tick to be skipped rather than queued.
func (m *Manager) RunHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.closed.Load() {
				return
			}
			m.CheckHealth(ctx)
		}
	}
}
