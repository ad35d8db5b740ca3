package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs fn every interval until the returned cancel func is called.
// The first run happens one interval after scheduling.
type Scheduler interface {
	Every(name string, interval time.Duration, fn func()) (cancel func(), err error)
}

// CronScheduler is a Scheduler backed by gocron. Jobs run in singleton mode,
// so a slow run is rescheduled instead of overlapping the next one.
type CronScheduler struct {
	s gocron.Scheduler
}

// NewCronScheduler creates and starts a gocron scheduler.
func NewCronScheduler() (*CronScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &CronScheduler{s: s}, nil
}

// Every implements Scheduler.
func (c *CronScheduler) Every(name string, interval time.Duration, fn func()) (func(), error) {
	job, err := c.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}

	id := job.ID()
	return func() {
		if err := c.s.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			slog.Warn("Failed to remove scheduled job", "job", name, "error", err)
		}
	}, nil
}

// Shutdown stops the scheduler and waits for running jobs to return.
func (c *CronScheduler) Shutdown() error {
	return c.s.Shutdown()
}
