package port

import "time"

// CronHandle is a live recurring task installed by a CronScheduler.
type CronHandle interface {
	Stop()
	NextRun() time.Time
}

// CronScheduler abstracts cron-expression scheduling so the parsing
// implementation stays swappable. Schedules are bound to UTC.
type CronScheduler interface {
	// Schedule validates expr and installs fn to run on each tick.
	Schedule(expr string, fn func()) (CronHandle, error)
	// Validate checks expr without installing anything.
	Validate(expr string) error
	Close()
}
