// Package scheduler runs the pipeline cycles on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"realty_tracker/internal/matching"
	"realty_tracker/internal/scraper"
	"realty_tracker/internal/tracker"
)

// Cycles is the set of cycles the scheduler triggers.
type Cycles interface {
	Crawl(ctx context.Context, opts scraper.CrawlOptions) (scraper.CrawlReport, error)
	Match(ctx context.Context) (matching.Report, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Schedules holds one cron expression per cycle. An empty expression
// disables that cycle.
type Schedules struct {
	Crawl   string
	Match   string
	Cleanup string
}

// Scheduler triggers crawl, match and cleanup cycles on their schedules.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New creates a Scheduler. A run that is still in progress when its next
// tick fires makes that tick a no-op.
func New(log *slog.Logger) *Scheduler {
	logger := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		log: log,
	}
}

// Add registers a named job on a cron spec. The job runs with ctx.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job func(ctx context.Context) error) error {
	if spec == "" {
		s.log.Info("job disabled", "job", name)
		return nil
	}
	log := s.log.With("job", name)
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		log.Debug("job started")
		if err := job(ctx); err != nil {
			if errors.Is(err, tracker.ErrBusy) {
				log.Info("job skipped, previous run still active")
				return
			}
			log.Error("job failed", "duration", time.Since(start), "error", err)
			return
		}
		log.Debug("job finished", "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	log.Info("job scheduled", "spec", spec)
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// Register adds the crawl, match and cleanup cycles of svc.
func Register(ctx context.Context, s *Scheduler, svc Cycles, sched Schedules) error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{"crawl", sched.Crawl, func(ctx context.Context) error {
			_, err := svc.Crawl(ctx, scraper.CrawlOptions{})
			if errors.Is(err, tracker.ErrReadOnly) {
				return nil
			}
			return err
		}},
		{"match", sched.Match, func(ctx context.Context) error {
			_, err := svc.Match(ctx)
			return err
		}},
		{"cleanup", sched.Cleanup, func(ctx context.Context) error {
			_, err := svc.Cleanup(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := s.Add(ctx, j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
