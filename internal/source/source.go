// Package source defines the capability every listing source implements.
package source

import (
	"context"
	"errors"

	"realty_tracker/internal/model"
)

// ErrNotFound is returned by FetchDetail when the listing no longer exists.
var ErrNotFound = errors.New("listing not found")

// Session is adapter-scoped state produced by Prepare, such as an auth token.
type Session any

// Item is one listing reference as returned on a page. Entity is set when
// the page already carries full details.
type Item struct {
	EntityID string
	Entity   *model.Entity
}

// Page is one page of search results.
type Page struct {
	Items []Item
	// HasNonPremium is true when at least one regular (not promoted)
	// listing appeared on the page.
	HasNonPremium bool
}

// PageFunc fetches one page. Page numbers start at 1.
type PageFunc func(ctx context.Context, s Session, page int) (Page, error)

// Adapter is one listing source.
type Adapter interface {
	ID() string
	Prepare(ctx context.Context) (Session, error)
	// PageFetchers returns the independent paginated searches of the source,
	// for example one per realty type.
	PageFetchers() []PageFunc
	// FetchDetail returns the full entity or ErrNotFound.
	FetchDetail(ctx context.Context, s Session, item Item) (model.Entity, error)
	URL(entityID string) string
}

// Registry selects adapters by id.
type Registry struct {
	adapters []Adapter
}

// NewRegistry returns a registry holding the given adapters in order.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	return r.adapters
}

// Select returns the adapters whose id is in ids, or all adapters when ids
// is empty.
func (r *Registry) Select(ids []string) []Adapter {
	if len(ids) == 0 {
		return r.adapters
	}
	var out []Adapter
	for _, a := range r.adapters {
		for _, id := range ids {
			if a.ID() == id {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// URL returns the canonical listing url for an entity, or "unknown" when
// its source is not registered.
func (r *Registry) URL(sourceID, entityID string) string {
	for _, a := range r.adapters {
		if a.ID() == sourceID {
			return a.URL(entityID)
		}
	}
	return "unknown"
}
