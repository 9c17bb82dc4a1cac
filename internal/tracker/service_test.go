package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"realty_tracker/internal/matching"
	"realty_tracker/internal/model"
	"realty_tracker/internal/scraper"
	"realty_tracker/internal/storage"
)

type mockCrawler struct {
	calls   []scraper.CrawlOptions
	block   chan struct{}
	started chan struct{}
	err     error
}

func (m *mockCrawler) Run(ctx context.Context, opts scraper.CrawlOptions) (scraper.CrawlReport, error) {
	m.calls = append(m.calls, opts)
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		<-m.block
	}
	return scraper.CrawlReport{Sources: []scraper.SourceReport{{SourceID: "a", Stored: 2}}}, m.err
}

type mockMatcher struct {
	runs int
}

func (m *mockMatcher) Run(context.Context) (matching.Report, error) {
	m.runs++
	return matching.Report{Processed: 1, Matched: 3, Notified: 3}, nil
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCrawl(t *testing.T) {
	ctx := context.Background()

	t.Run("passes options", func(t *testing.T) {
		c := &mockCrawler{}
		s := New(c, &mockMatcher{}, newTestStore(t), nil, Options{}, testLogger())
		opts := scraper.CrawlOptions{SourceIDs: []string{"a"}, Full: true}

		report, err := s.Crawl(ctx, opts)
		if err != nil {
			t.Fatalf("crawl: %v", err)
		}
		if diff := cmp.Diff(2, report.Stored()); diff != "" {
			t.Errorf("stored mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]scraper.CrawlOptions{opts}, c.calls); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("read only", func(t *testing.T) {
		c := &mockCrawler{}
		s := New(c, &mockMatcher{}, newTestStore(t), nil, Options{ReadOnly: true}, testLogger())
		if _, err := s.Crawl(ctx, scraper.CrawlOptions{}); !errors.Is(err, ErrReadOnly) {
			t.Errorf("error = %v, want ErrReadOnly", err)
		}
		if len(c.calls) != 0 {
			t.Error("crawler ran on a read-only instance")
		}
	})

	t.Run("overlapping crawl is refused", func(t *testing.T) {
		c := &mockCrawler{block: make(chan struct{}), started: make(chan struct{})}
		s := New(c, &mockMatcher{}, newTestStore(t), nil, Options{}, testLogger())

		done := make(chan error, 1)
		go func() {
			_, err := s.Crawl(ctx, scraper.CrawlOptions{})
			done <- err
		}()
		<-c.started

		if _, err := s.Crawl(ctx, scraper.CrawlOptions{}); !errors.Is(err, ErrBusy) {
			t.Errorf("error = %v, want ErrBusy", err)
		}
		close(c.block)
		if err := <-done; err != nil {
			t.Errorf("first crawl: %v", err)
		}
	})

	t.Run("returns crawler error", func(t *testing.T) {
		c := &mockCrawler{err: errors.New("source down")}
		s := New(c, &mockMatcher{}, newTestStore(t), nil, Options{}, testLogger())
		if _, err := s.Crawl(ctx, scraper.CrawlOptions{}); err == nil {
			t.Error("expected the crawler error")
		}
	})
}

func TestMatch(t *testing.T) {
	m := &mockMatcher{}
	s := New(&mockCrawler{}, m, newTestStore(t), nil, Options{ReadOnly: true}, testLogger())

	report, err := s.Match(context.Background())
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if diff := cmp.Diff(matching.Report{Processed: 1, Matched: 3, Notified: 3}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, m.runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for id, age := range map[string]time.Duration{"old": 48 * time.Hour, "edge": 24 * time.Hour, "new": time.Hour} {
		e := model.Entity{ID: "a:" + id, SourceID: "a", EntityID: id, PostedAt: now.Add(-age)}
		if err := store.UpsertEntity(ctx, e); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	s := New(&mockCrawler{}, &mockMatcher{}, store, nil, Options{Retention: 24 * time.Hour}, testLogger())
	s.now = func() time.Time { return now }

	n, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if diff := cmp.Diff(int64(2), n); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	refs, err := s.EntityRefs(ctx)
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	if diff := cmp.Diff([]model.EntityRef{{SourceID: "a", EntityID: "new"}}, refs); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestSetStopSignal(t *testing.T) {
	stop := scraper.NewStopper()
	s := New(&mockCrawler{}, &mockMatcher{}, newTestStore(t), stop, Options{}, testLogger())

	s.SetStopSignal(true)
	if !stop.Stopped() {
		t.Error("stop flag not raised")
	}
	s.SetStopSignal(false)
	if stop.Stopped() {
		t.Error("stop flag not cleared")
	}
}

func TestEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.UpsertEntity(ctx, model.Entity{ID: "a:1", SourceID: "a", EntityID: "1", Price: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(&mockCrawler{}, &mockMatcher{}, store, nil, Options{}, testLogger())

	e, err := s.Entity(ctx, "a:1")
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	if diff := cmp.Diff(10.0, e.Price); diff != "" {
		t.Errorf("price mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Entity(ctx, "a:2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
