package views

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmoreno/cloudlens/internal/core/domain"
)

// ScheduleRefresh validates the cron expression, tears down any existing
// schedule for the view, and installs a new recurring refresh when enabled.
// An invalid expression fails synchronously and leaves any existing schedule
// untouched.
func (m *Manager) ScheduleRefresh(ctx context.Context, name, cronExpr string, enabled bool) error {
	m.mu.RLock()
	_, exists := m.views[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %q", domain.ErrViewNotFound, name)
	}
	if err := m.cron.Validate(cronExpr); err != nil {
		return err
	}

	m.mu.Lock()
	if old, ok := m.schedules[name]; ok && old.handle != nil {
		old.handle.Stop()
	}
	st := &scheduleState{Schedule: Schedule{
		View:     name,
		CronExpr: cronExpr,
		Enabled:  enabled,
	}}
	m.schedules[name] = st
	m.mu.Unlock()

	if enabled {
		handle, err := m.cron.Schedule(cronExpr, func() { m.scheduledTick(name) })
		if err != nil {
			m.mu.Lock()
			delete(m.schedules, name)
			m.mu.Unlock()
			return err
		}
		m.mu.Lock()
		st.handle = handle
		st.NextRun = handle.NextRun()
		m.mu.Unlock()
	}

	m.persistView(ctx, name)
	m.logger.InfoContext(ctx, "refresh schedule installed",
		slog.String("view", name),
		slog.String("cron", cronExpr),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// UnscheduleRefresh stops and discards the view's schedule, if it has one.
func (m *Manager) UnscheduleRefresh(name string) error {
	m.mu.Lock()
	_, exists := m.views[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrViewNotFound, name)
	}
	st, ok := m.schedules[name]
	if ok && st.handle != nil {
		st.handle.Stop()
	}
	delete(m.schedules, name)
	m.mu.Unlock()

	if ok {
		m.persistView(context.Background(), name)
		m.logger.Info("refresh schedule removed", slog.String("view", name))
	}
	return nil
}

// Schedules returns a copy of every live schedule.
func (m *Manager) Schedules() []Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Schedule, 0, len(m.schedules))
	for _, st := range m.schedules {
		s := st.Schedule
		if st.handle != nil {
			s.NextRun = st.handle.NextRun()
		}
		out = append(out, s)
	}
	return out
}

// scheduledTick runs on the cron goroutine for each firing of a schedule.
func (m *Manager) scheduledTick(name string) {
	ctx := context.Background()
	res, err := m.RefreshView(ctx, name, ModeAuto)
	failed := err != nil || !res.Success

	m.mu.Lock()
	if st, ok := m.schedules[name]; ok {
		st.LastRun = time.Now()
		st.RunCount++
		if failed {
			st.Errors++
		}
		if st.handle != nil {
			st.NextRun = st.handle.NextRun()
		}
	}
	m.mu.Unlock()

	if err != nil {
		// The view was dropped after its schedule fired; tear the orphan down.
		m.logger.Warn("scheduled refresh target missing, removing schedule",
			slog.String("view", name), slog.Any("error", err))
		m.mu.Lock()
		if st, ok := m.schedules[name]; ok {
			if st.handle != nil {
				st.handle.Stop()
			}
			delete(m.schedules, name)
		}
		m.mu.Unlock()
	}
}
