// Package jobs runs the periodic background work of the server.
package jobs

import (
	"context"
	"time"

	"fixnearby-server/logging"
	"fixnearby-server/metrics"
)

// RunFunc performs one pass of a job and reports how many items it handled
type RunFunc func(ctx context.Context) (int, error)

// Job runs fn on a fixed interval. It implements suture.Service.
type Job struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       RunFunc
}

// New creates a job. A pass may take at most one interval.
func New(name string, interval time.Duration, fn RunFunc) *Job {
	return &Job{name: name, interval: interval, timeout: interval, fn: fn}
}

// Serve ticks until ctx is done
func (j *Job) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logging.Info().Str("job", j.name).Dur("interval", j.interval).Msg("Job started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("job", j.name).Msg("Job stopped")
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass, logging and counting the outcome
func (j *Job) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(logging.ContextWithRequestID(ctx, logging.NewRequestID()), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.fn(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(j.name, "error").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("job", j.name).Msg("Job run failed")
		return
	}
	metrics.JobRuns.WithLabelValues(j.name, "ok").Inc()
	if n > 0 {
		logging.Ctx(ctx).Info().Str("job", j.name).Int("handled", n).Dur("elapsed", time.Since(start)).Msg("Job run completed")
	}
}

func (j *Job) String() string { return "job:" + j.name }
