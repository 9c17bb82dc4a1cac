// Package matching runs tracker requests against freshly scraped listings
// and queues notifications for the matches.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"realty_tracker/internal/filter"
	"realty_tracker/internal/model"
	"realty_tracker/internal/notify"
	"realty_tracker/internal/storage"
)

// DefaultMaxPerRequest is the number of listing notifications a request may
// receive in one cycle before it gets the advisory instead.
const DefaultMaxPerRequest = 10

// Queue accepts notifications for delivery.
type Queue interface {
	Enqueue(m notify.Message)
	Wait(ctx context.Context) error
}

// URLResolver builds the public url of a listing.
type URLResolver interface {
	URL(sourceID, entityID string) string
}

// Report is the outcome of a matching cycle.
type Report struct {
	Requests   int
	Processed  int
	Entities   int
	Matched    int
	Notified   int
	Advisories int
}

// Cycle evaluates every enabled request against listings scraped since its
// watermark.
type Cycle struct {
	requests storage.RequestStore
	entities storage.EntityStore
	queue    Queue
	urls     URLResolver
	log      *slog.Logger

	maxPerRequest int
	now           func() time.Time
}

// New creates a Cycle.
func New(requests storage.RequestStore, entities storage.EntityStore, queue Queue, urls URLResolver, log *slog.Logger) *Cycle {
	return &Cycle{
		requests:      requests,
		entities:      entities,
		queue:         queue,
		urls:          urls,
		log:           log,
		maxPerRequest: DefaultMaxPerRequest,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one cycle. Watermarks of processed requests advance to the
// cycle start even when nothing matched or delivery failed. Run returns
// once all store writes finished and the queue drained.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	started := c.now()

	requests, err := c.requests.ListRequests(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list requests: %w", err)
	}
	report := Report{Requests: len(requests)}

	var since time.Time
	for i, r := range requests {
		if i == 0 || r.NotifiedAt.Before(since) {
			since = r.NotifiedAt
		}
	}

	entities, err := c.entities.ListEntitiesScrapedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("list entities since %s: %w", since.Format(time.RFC3339), err)
	}
	report.Entities = len(entities)

	var writes errgroup.Group
	writes.SetLimit(4)

	for _, r := range requests {
		if !r.Enabled {
			continue
		}
		report.Processed++

		matched := c.match(r, entities, started)
		report.Matched += len(matched)
		notified, advised := c.enqueue(r, matched)
		report.Notified += notified
		if advised {
			report.Advisories++
		}
		if len(matched) > 0 {
			c.log.Info("request matched", "request_id", r.ID, "matched", len(matched), "notified", notified)
		}

		ids := make([]string, len(matched))
		for i, e := range matched {
			ids[i] = e.ID
		}
		writes.Go(func() error {
			if len(ids) == 0 {
				return nil
			}
			if err := c.requests.AppendMatchIDs(ctx, r.ID, ids); err != nil {
				return fmt.Errorf("append matches of %s: %w", r.ID, err)
			}
			return nil
		})
		writes.Go(func() error {
			if err := c.requests.AdvanceWatermark(ctx, r.ID, started); err != nil {
				return fmt.Errorf("advance watermark of %s: %w", r.ID, err)
			}
			return nil
		})
	}

	if err := writes.Wait(); err != nil {
		return report, err
	}
	if err := c.queue.Wait(ctx); err != nil {
		return report, fmt.Errorf("drain notifications: %w", err)
	}
	return report, nil
}

// match returns the entities scraped in [r.NotifiedAt, until) that pass the
// request's filters. Later ones belong to the next cycle.
func (c *Cycle) match(r model.TrackerRequest, entities []model.Entity, until time.Time) []model.Entity {
	var matched []model.Entity
	for _, e := range entities {
		if e.OutOfArea || e.ScrapedAt.Before(r.NotifiedAt) || !e.ScrapedAt.Before(until) {
			continue
		}
		if filter.Match(e, r.Filter) {
			matched = append(matched, e)
		}
	}
	return matched
}

// enqueue queues one message per notifier for the first maxPerRequest
// matches and a single advisory when there are more.
func (c *Cycle) enqueue(r model.TrackerRequest, matched []model.Entity) (int, bool) {
	notified := 0
	for i, e := range matched {
		if i == c.maxPerRequest {
			for _, n := range r.Notifiers {
				c.queue.Enqueue(notify.Message{RequestID: r.ID, To: n, Text: notify.AdvisoryText})
			}
			return notified, true
		}
		text := notify.Format(e, c.urls.URL(e.SourceID, e.EntityID))
		for _, n := range r.Notifiers {
			c.queue.Enqueue(notify.Message{RequestID: r.ID, To: n, Text: text})
		}
		notified++
	}
	return notified, false
}
