package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Job is one unit of recurring work.
type Job func(ctx context.Context) error

// Runner invokes a Job on a Schedule until its context is cancelled. A
// failing or panicking run is logged and the next scheduled run proceeds.
type Runner struct {
	name     string
	schedule Schedule
	job      Job
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewRunner creates a Runner. A nil logger uses slog.Default.
func NewRunner(name string, schedule Schedule, job Job, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:     name,
		schedule: schedule,
		job:      job,
		logger:   logger.With("job", name),
		now:      time.Now,
		after:    time.After,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	next := r.schedule.Next(r.now())
	r.logger.Info("job scheduled", "next_run", next.Format(time.RFC3339))
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.after(next.Sub(r.now())):
		}
		if ctx.Err() != nil {
			return
		}

		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error("job run failed", "error", err)
		}
		next = r.schedule.Next(r.now())
	}
}

// RunOnce executes the job immediately, converting a panic into an error.
func (r *Runner) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", r.name, p, debug.Stack())
		}
	}()
	start := time.Now()
	err = r.job(ctx)
	r.logger.Debug("job run finished", "duration_ms", time.Since(start).Milliseconds(), "ok", err == nil)
	return err
}
