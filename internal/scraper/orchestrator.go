// Package scraper drives listing sources through pagination and keeps the
// entity store in sync with what they report.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"realty_tracker/internal/model"
	"realty_tracker/internal/source"
	"realty_tracker/internal/storage"
)

// Options tunes pacing and timeouts of a crawl.
type Options struct {
	PageDelay    time.Duration
	PageTimeout  time.Duration
	ItemDelay    time.Duration
	BatchTimeout time.Duration
	// MaxPages caps every page loop. Zero means no cap.
	MaxPages int
	// MaxPageFailures ends a page loop after this many consecutive failed
	// pages. Zero means failed pages are skipped without limit.
	MaxPageFailures int
}

// AreaResolver decides whether a location is inside the serviced area.
type AreaResolver interface {
	InArea(loc model.Location) bool
	Annotate(loc *model.Location)
}

// Orchestrator crawls one adapter at a time against the entity store.
type Orchestrator struct {
	store storage.EntityStore
	area  AreaResolver
	stop  *Stopper
	opts  Options
	log   *slog.Logger
	now   func() time.Time
}

// NewOrchestrator creates an Orchestrator. area and stop may be nil.
func NewOrchestrator(store storage.EntityStore, area AreaResolver, stop *Stopper, opts Options, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store: store,
		area:  area,
		stop:  stop,
		opts:  opts,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Scrape crawls every page fetcher of the adapter and returns the global
// ids of entities stored during this run. known holds the entity ids the
// store already has for this source; it is not modified.
//
// With bailOut set, a page loop ends as soon as a page brings no unseen ids
// while showing at least one regular listing. Without it, only an empty page
// ends the loop.
func (o *Orchestrator) Scrape(ctx context.Context, a source.Adapter, known []string, bailOut bool) ([]string, error) {
	log := o.log.With("source", a.ID())

	session, err := a.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", a.ID(), err)
	}

	seen := make(map[string]struct{}, len(known))
	for _, id := range known {
		seen[id] = struct{}{}
	}

	var stored []string
	for i, fetch := range a.PageFetchers() {
		r := run{
			o:       o,
			adapter: a,
			session: session,
			fetch:   fetch,
			seen:    seen,
			bailOut: bailOut,
			log:     log.With("fetcher", i),
		}
		ids, lastPage, err := r.loop(ctx)
		stored = append(stored, ids...)
		r.log.Info("fetcher finished", "stored", len(ids), "last_page", lastPage)
		if err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// run is the state of one page loop.
type run struct {
	o       *Orchestrator
	adapter source.Adapter
	session source.Session
	fetch   source.PageFunc
	seen    map[string]struct{}
	bailOut bool
	log     *slog.Logger
}

func (r *run) loop(ctx context.Context) ([]string, int, error) {
	opts := r.o.opts
	pageLimiter := rate.NewLimiter(every(opts.PageDelay), 1)

	var stored []string
	failures := 0
	page := 0
	for {
		if r.o.stop.Stopped() || ctx.Err() != nil {
			r.log.Info("crawl stopped", "page", page)
			return stored, page, nil
		}
		if opts.MaxPages > 0 && page >= opts.MaxPages {
			return stored, page, nil
		}
		page++

		if err := pageLimiter.Wait(ctx); err != nil {
			return stored, page, nil
		}

		n := page
		result, err := withTimeout(ctx, opts.PageTimeout, func(ctx context.Context) (source.Page, error) {
			return r.fetch(ctx, r.session, n)
		})
		if err != nil {
			failures++
			r.log.Warn("fetch page", "page", page, "error", err)
			if opts.MaxPageFailures > 0 && failures >= opts.MaxPageFailures {
				r.log.Error("giving up after consecutive page failures", "page", page, "failures", failures)
				return stored, page, nil
			}
			continue
		}
		failures = 0

		fresh := r.unseen(result.Items)
		r.log.Debug("page fetched", "page", page, "items", len(result.Items), "new", len(fresh))

		if len(fresh) == 0 {
			if len(result.Items) == 0 || (r.bailOut && result.HasNonPremium) {
				return stored, page, nil
			}
			continue
		}

		ids, err := r.storeBatch(ctx, fresh)
		if ctx.Err() != nil {
			r.log.Info("crawl interrupted", "page", page)
			return stored, page, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			r.log.Warn("detail batch timed out, page dropped", "page", page, "items", len(fresh))
			continue
		}
		if err != nil {
			return stored, page, err
		}
		for _, it := range fresh {
			r.seen[it.EntityID] = struct{}{}
		}
		stored = append(stored, ids...)
	}
}

func (r *run) unseen(items []source.Item) []source.Item {
	var fresh []source.Item
	for _, it := range items {
		if _, ok := r.seen[it.EntityID]; ok {
			continue
		}
		fresh = append(fresh, it)
	}
	return fresh
}

// storeBatch fetches details for the items in listing order and applies
// them to the store. It returns context.DeadlineExceeded when the batch
// timeout fires.
func (r *run) storeBatch(ctx context.Context, items []source.Item) ([]string, error) {
	opts := r.o.opts
	batchCtx := ctx
	if opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, opts.BatchTimeout)
		defer cancel()
	}
	itemLimiter := rate.NewLimiter(every(opts.ItemDelay), 1)

	var ids []string
	for _, it := range items {
		if err := itemLimiter.Wait(batchCtx); err != nil {
			return nil, batchErr(batchCtx, err)
		}

		e, err := r.adapter.FetchDetail(batchCtx, r.session, it)
		switch {
		case errors.Is(err, source.ErrNotFound):
			id := model.GlobalID(r.adapter.ID(), it.EntityID)
			if err := r.o.store.DeleteEntity(ctx, id); err != nil {
				return nil, err
			}
			r.log.Debug("listing gone, removed", "id", id)
			continue
		case batchCtx.Err() != nil:
			return nil, batchErr(batchCtx, batchCtx.Err())
		case err != nil:
			r.log.Warn("fetch detail", "entity_id", it.EntityID, "error", err)
			continue
		}

		r.o.normalize(r.adapter.ID(), it.EntityID, &e)
		if err := r.o.store.UpsertEntity(ctx, e); err != nil {
			return nil, err
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (o *Orchestrator) normalize(sourceID, entityID string, e *model.Entity) {
	e.SourceID = sourceID
	if e.EntityID == "" {
		e.EntityID = entityID
	}
	e.ID = model.GlobalID(sourceID, e.EntityID)
	e.ScrapedAt = o.now()
	if o.area != nil {
		o.area.Annotate(&e.Location)
		e.OutOfArea = !o.area.InArea(e.Location)
	}
}

func batchErr(batchCtx context.Context, err error) error {
	if errors.Is(batchCtx.Err(), context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// withTimeout runs fn under a deadline and returns as soon as the deadline
// passes, even when fn ignores its context.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
