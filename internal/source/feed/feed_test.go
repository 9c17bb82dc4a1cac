package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"realty_tracker/internal/model"
	"realty_tracker/internal/source"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetchPage(t *testing.T) {
	xml := loadFixture(t, "testdata/listings.xml")
	a := New(&mockTransport{body: xml, statusCode: 200}, []string{"https://agency.example.com/rss"})

	fetchers := a.PageFetchers()
	if diff := cmp.Diff(1, len(fetchers)); diff != "" {
		t.Fatalf("fetcher count mismatch (-want +got):\n%s", diff)
	}

	page, err := fetchers[0](context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if !page.HasNonPremium {
		t.Error("feed pages always count as regular listings")
	}
	if diff := cmp.Diff(3, len(page.Items)); diff != "" {
		t.Fatalf("item count mismatch (-want +got):\n%s", diff)
	}

	want := []model.Entity{
		{
			EntityID:   "https://agency.example.com/listings/101",
			Price:      120000,
			Currency:   model.CurrencyUSD,
			RealtyType: model.RealtyApartment,
			AreaSize:   85,
			Rooms:      3,
			Bedrooms:   2,
			Location:   model.Location{Address: "Apartment in Vake, 3 rooms, 2 bedrooms"},
			PostedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			EntityID:   "listing-102",
			Price:      950000,
			Currency:   model.CurrencyGEL,
			RealtyType: model.RealtyHouse,
			AreaSize:   240,
			Rooms:      5,
			Bedrooms:   4,
			Location:   model.Location{Address: "House with garden in Tskneti"},
			PostedAt:   time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
		},
	}
	var got []model.Entity
	for _, it := range page.Items[:2] {
		if it.Entity == nil {
			t.Fatalf("item %s has no entity", it.EntityID)
		}
		if diff := cmp.Diff(it.EntityID, it.Entity.EntityID); diff != "" {
			t.Errorf("item id mismatch (-want +got):\n%s", diff)
		}
		got = append(got, *it.Entity)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}

	last := page.Items[2].Entity
	if !strings.HasPrefix(last.EntityID, "sha256:") {
		t.Errorf("unlinked item id = %q, want a hash", last.EntityID)
	}
	if diff := cmp.Diff(model.CurrencyUnknown, last.Currency); diff != "" {
		t.Errorf("currency mismatch (-want +got):\n%s", diff)
	}
}

func TestLaterPagesAreEmpty(t *testing.T) {
	a := New(&mockTransport{err: errors.New("must not be called")}, []string{"https://a.example.com/rss"})

	page, err := a.PageFetchers()[0](context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("fetch page 2: %v", err)
	}
	if diff := cmp.Diff(source.Page{}, page, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		notFound  bool
	}{
		{name: "server error", transport: &mockTransport{statusCode: 500}},
		{name: "gone", transport: &mockTransport{statusCode: 404}, notFound: true},
		{name: "network error", transport: &mockTransport{err: errors.New("connection refused")}},
		{name: "invalid xml", transport: &mockTransport{body: "not xml at all", statusCode: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.transport, []string{"https://a.example.com/rss"})
			_, err := a.PageFetchers()[0](context.Background(), nil, 1)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, source.ErrNotFound); got != tt.notFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v", got, tt.notFound)
			}
		})
	}
}

func TestURL(t *testing.T) {
	a := New(http.DefaultClient, nil)
	tests := []struct {
		id   string
		want string
	}{
		{"https://agency.example.com/listings/1", "https://agency.example.com/listings/1"},
		{"listing-1", "unknown"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, a.URL(tt.id)); diff != "" {
			t.Errorf("URL(%q) mismatch (-want +got):\n%s", tt.id, diff)
		}
	}
}
