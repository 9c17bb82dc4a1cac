// Package tracker exposes the pipeline cycles to the triggers that start
// them: the cron scheduler and the HTTP surface.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"realty_tracker/internal/matching"
	"realty_tracker/internal/model"
	"realty_tracker/internal/scraper"
	"realty_tracker/internal/storage"
)

var (
	// ErrReadOnly is returned by Crawl on an instance that must not write
	// listings.
	ErrReadOnly = errors.New("database updates are disabled on this instance")
	// ErrBusy is returned when the same cycle is already running.
	ErrBusy = errors.New("cycle already running")
)

// Crawler runs crawl cycles.
type Crawler interface {
	Run(ctx context.Context, opts scraper.CrawlOptions) (scraper.CrawlReport, error)
}

// Matcher runs matching cycles.
type Matcher interface {
	Run(ctx context.Context) (matching.Report, error)
}

// Options configures a Service.
type Options struct {
	// Retention is how long after posting a listing is kept.
	Retention time.Duration
	// ReadOnly refuses crawl cycles.
	ReadOnly bool
}

// Service serializes each cycle kind and guards the read-only mode.
type Service struct {
	crawler Crawler
	matcher Matcher
	store   storage.EntityStore
	stop    *scraper.Stopper
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	crawlMu   sync.Mutex
	matchMu   sync.Mutex
	cleanupMu sync.Mutex
}

// New creates a Service. stop must be the Stopper the crawler's
// orchestrator checks; a nil stop gets a private one.
func New(crawler Crawler, matcher Matcher, store storage.EntityStore, stop *scraper.Stopper, opts Options, log *slog.Logger) *Service {
	if stop == nil {
		stop = scraper.NewStopper()
	}
	return &Service{
		crawler: crawler,
		matcher: matcher,
		store:   store,
		stop:    stop,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Crawl runs one crawl cycle.
func (s *Service) Crawl(ctx context.Context, opts scraper.CrawlOptions) (scraper.CrawlReport, error) {
	if s.opts.ReadOnly {
		return scraper.CrawlReport{}, ErrReadOnly
	}
	if !s.crawlMu.TryLock() {
		return scraper.CrawlReport{}, fmt.Errorf("crawl: %w", ErrBusy)
	}
	defer s.crawlMu.Unlock()

	start := time.Now()
	report, err := s.crawler.Run(ctx, opts)
	s.log.Info("crawl cycle finished",
		"stored", report.Stored(),
		"sources", len(report.Sources),
		"wipe", opts.Wipe,
		"full", opts.Full,
		"duration", time.Since(start),
		"error", err,
	)
	return report, err
}

// Match runs one matching cycle.
func (s *Service) Match(ctx context.Context) (matching.Report, error) {
	if !s.matchMu.TryLock() {
		return matching.Report{}, fmt.Errorf("match: %w", ErrBusy)
	}
	defer s.matchMu.Unlock()

	start := time.Now()
	report, err := s.matcher.Run(ctx)
	s.log.Info("match cycle finished",
		"processed", report.Processed,
		"matched", report.Matched,
		"notified", report.Notified,
		"advisories", report.Advisories,
		"duration", time.Since(start),
		"error", err,
	)
	return report, err
}

// Cleanup removes listings posted longer ago than the retention period and
// returns how many were removed.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if !s.cleanupMu.TryLock() {
		return 0, fmt.Errorf("cleanup: %w", ErrBusy)
	}
	defer s.cleanupMu.Unlock()

	cutoff := s.now().Add(-s.opts.Retention)
	n, err := s.store.DeleteEntitiesPostedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	s.log.Info("cleanup finished", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// SetStopSignal raises or clears the cooperative crawl stop flag.
func (s *Service) SetStopSignal(stop bool) {
	s.stop.Set(stop)
	s.log.Info("stop signal changed", "stop", stop)
}

// Entity returns a stored listing.
func (s *Service) Entity(ctx context.Context, id string) (*model.Entity, error) {
	return s.store.GetEntity(ctx, id)
}

// EntityRefs returns the ids of every stored listing.
func (s *Service) EntityRefs(ctx context.Context) ([]model.EntityRef, error) {
	return s.store.ListEntityRefs(ctx)
}
