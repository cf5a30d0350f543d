package views

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Definitions and schedules survive restarts in a registry table in the
// backing store; the database objects themselves already persist, this keeps
// the metadata and cron state alongside them.
const (
	registryDDL = `
CREATE TABLE IF NOT EXISTS cloudlens_view_registry (
    name        text PRIMARY KEY,
    definition  text NOT NULL,
    schedule    text,
    updated_at  timestamptz NOT NULL DEFAULT now()
)`

	registryUpsert = `
INSERT INTO cloudlens_view_registry (name, definition, schedule, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (name) DO UPDATE
SET definition = EXCLUDED.definition,
    schedule   = EXCLUDED.schedule,
    updated_at = now()`

	registryDelete = `DELETE FROM cloudlens_view_registry WHERE name = $1`

	registrySelect = `SELECT name, definition, schedule FROM cloudlens_view_registry ORDER BY name`
)

// EnsureRegistry creates the registry table if it does not exist yet.
func (m *Manager) EnsureRegistry(ctx context.Context) error {
	if err := m.exec.Exec(ctx, registryDDL); err != nil {
		return fmt.Errorf("creating view registry: %w", err)
	}
	return nil
}

// persistView upserts one view's definition and schedule. Persistence is
// best-effort: a registry write failure is logged, never propagated, because
// the in-memory state is already authoritative for this process.
func (m *Manager) persistView(ctx context.Context, name string) {
	m.mu.RLock()
	def, exists := m.views[name]
	if !exists {
		m.mu.RUnlock()
		return
	}
	defCopy := *def
	var sched *Schedule
	if st, ok := m.schedules[name]; ok {
		s := st.Schedule
		sched = &s
	}
	m.mu.RUnlock()

	defJSON, err := json.Marshal(defCopy)
	if err != nil {
		m.logger.Warn("failed to encode view definition", slog.String("view", name), slog.Any("error", err))
		return
	}
	var schedJSON []byte
	if sched != nil {
		if schedJSON, err = json.Marshal(sched); err != nil {
			m.logger.Warn("failed to encode view schedule", slog.String("view", name), slog.Any("error", err))
			return
		}
	}

	var schedArg any
	if schedJSON != nil {
		schedArg = string(schedJSON)
	}
	if err := m.exec.Exec(ctx, registryUpsert, name, string(defJSON), schedArg); err != nil {
		m.logger.Warn("failed to persist view registry entry", slog.String("view", name), slog.Any("error", err))
	}
}

func (m *Manager) unpersistView(ctx context.Context, name string) {
	if err := m.exec.Exec(ctx, registryDelete, name); err != nil {
		m.logger.Warn("failed to delete view registry entry", slog.String("view", name), slog.Any("error", err))
	}
}

// LoadPersisted restores definitions and re-installs enabled schedules from
// the registry table. The underlying database objects are assumed to exist;
// nothing is created or refreshed here. Malformed rows are skipped with a
// warning so one bad entry cannot block startup.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	rows, err := m.exec.Query(ctx, registrySelect)
	if err != nil {
		return fmt.Errorf("loading view registry: %w", err)
	}

	restored := 0
	for _, row := range rows {
		name, _ := row["name"].(string)
		defText, _ := row["definition"].(string)

		var def Definition
		if err := json.Unmarshal([]byte(defText), &def); err != nil {
			m.logger.Warn("skipping malformed view registry entry",
				slog.String("view", name), slog.Any("error", err))
			continue
		}

		m.mu.Lock()
		if _, exists := m.views[def.Name]; exists {
			m.mu.Unlock()
			continue
		}
		m.views[def.Name] = &def
		m.mu.Unlock()
		restored++

		if schedText, ok := row["schedule"].(string); ok && schedText != "" {
			var sched Schedule
			if err := json.Unmarshal([]byte(schedText), &sched); err != nil {
				m.logger.Warn("skipping malformed view schedule",
					slog.String("view", def.Name), slog.Any("error", err))
				continue
			}
			if err := m.ScheduleRefresh(ctx, def.Name, sched.CronExpr, sched.Enabled); err != nil {
				m.logger.Warn("failed to restore view schedule",
					slog.String("view", def.Name), slog.Any("error", err))
			}
		}
	}

	m.logger.InfoContext(ctx, "view registry loaded", slog.Int("views", restored))
	return nil
}
