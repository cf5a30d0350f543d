// Package cron adapts robfig/cron to the scheduler port. All schedules run
// against UTC so a refresh planned for "0 2 * * *" means 02:00 UTC regardless
// of where the process runs.
package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/nmoreno/cloudlens/internal/core/domain"
	"github.com/nmoreno/cloudlens/internal/core/port"
)

// Scheduler implements port.CronScheduler on a single shared cron runner.
type Scheduler struct {
	runner *robfig.Cron
	parser robfig.Parser
}

// New starts the underlying runner immediately; installed jobs begin firing
// without a separate start call.
func New() *Scheduler {
	parser := robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)
	runner := robfig.New(robfig.WithLocation(time.UTC), robfig.WithParser(parser))
	runner.Start()
	return &Scheduler{runner: runner, parser: parser}
}

// Schedule validates expr and installs fn on each tick.
func (s *Scheduler) Schedule(expr string, fn func()) (port.CronHandle, error) {
	if err := s.Validate(expr); err != nil {
		return nil, err
	}
	id, err := s.runner.AddFunc(expr, fn)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", domain.ErrInvalidCron, expr, err)
	}
	return &handle{runner: s.runner, id: id}, nil
}

// Validate checks expr against the standard five-field format.
func (s *Scheduler) Validate(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %w", domain.ErrInvalidCron, expr, err)
	}
	return nil
}

// Close stops the runner; running jobs finish, no new ticks fire.
func (s *Scheduler) Close() {
	<-s.runner.Stop().Done()
}

type handle struct {
	runner *robfig.Cron
	id     robfig.EntryID
}

func (h *handle) Stop() {
	h.runner.Remove(h.id)
}

func (h *handle) NextRun() time.Time {
	return h.runner.Entry(h.id).Next
}
