// Package scheduler runs the daily sweep and import jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	base    context.Context
	timeout time.Duration
}

// New returns a scheduler evaluating specs in loc. Each run gets timeout
// to finish. A run still in progress when the next one is due is skipped.
func New(loc *time.Location, timeout time.Duration) *Scheduler {
	logger := cronLogger{slog.Default().With("component", "scheduler")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		base:    context.Background(),
		timeout: timeout,
	}
}

// Add registers job under a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	slog.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()
	start := time.Now()
	slog.Info("job started", "job", name)
	if err := job(ctx); err != nil {
		slog.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	slog.Info("job finished", "job", name, "duration", time.Since(start))
}

// Start runs the scheduler in the background. Jobs inherit ctx values but
// not its cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.base = context.WithoutCancel(ctx)
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out with jobs running")
	}
}

// Next returns the next activation time per job, for status reporting.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
