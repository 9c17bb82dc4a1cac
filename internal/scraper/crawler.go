package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"realty_tracker/internal/source"
	"realty_tracker/internal/storage"
)

// CrawlOptions selects what a crawl cycle does.
type CrawlOptions struct {
	// SourceIDs limits the cycle to these adapters. Empty means all.
	SourceIDs []string
	// Wipe drops every stored entity before crawling.
	Wipe bool
	// Full keeps paging through known ids instead of bailing out.
	Full bool
}

// SourceReport is the outcome of one adapter in a crawl cycle.
type SourceReport struct {
	SourceID string
	Stored   int
	Err      error
}

// CrawlReport is the outcome of a crawl cycle.
type CrawlReport struct {
	Sources []SourceReport
}

// Stored returns the number of entities stored across all sources.
func (r CrawlReport) Stored() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Stored
	}
	return n
}

// Crawler runs crawl cycles over a set of adapters.
type Crawler struct {
	registry *source.Registry
	store    storage.EntityStore
	orch     *Orchestrator
	log      *slog.Logger
}

// NewCrawler creates a Crawler.
func NewCrawler(registry *source.Registry, store storage.EntityStore, orch *Orchestrator, log *slog.Logger) *Crawler {
	return &Crawler{
		registry: registry,
		store:    store,
		orch:     orch,
		log:      log,
	}
}

// Run crawls the selected adapters concurrently. A failing adapter does not
// stop the others; every failure is reported in the joined error.
func (c *Crawler) Run(ctx context.Context, opts CrawlOptions) (CrawlReport, error) {
	adapters := c.registry.Select(opts.SourceIDs)
	if len(adapters) == 0 {
		return CrawlReport{}, fmt.Errorf("no sources match %v", opts.SourceIDs)
	}

	known := make(map[string][]string)
	if opts.Wipe {
		if err := c.store.DeleteAllEntities(ctx); err != nil {
			return CrawlReport{}, err
		}
		c.log.Info("entities wiped")
	} else {
		refs, err := c.store.ListEntityRefs(ctx)
		if err != nil {
			return CrawlReport{}, err
		}
		for _, ref := range refs {
			known[ref.SourceID] = append(known[ref.SourceID], ref.EntityID)
		}
	}

	c.log.Info("crawl started", "sources", len(adapters), "wipe", opts.Wipe, "full", opts.Full)

	var (
		mu     sync.Mutex
		report CrawlReport
		errs   []error
		g      errgroup.Group
	)
	for _, a := range adapters {
		g.Go(func() error {
			ids, err := c.orch.Scrape(ctx, a, known[a.ID()], !opts.Full)
			if err != nil {
				c.log.Error("crawl source", "source", a.ID(), "error", err)
			}
			mu.Lock()
			defer mu.Unlock()
			report.Sources = append(report.Sources, SourceReport{SourceID: a.ID(), Stored: len(ids), Err: err})
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.log.Info("crawl finished", "stored", report.Stored(), "failed", len(errs))
	return report, errors.Join(errs...)
}
