// Package feed is a listing source for agencies that publish RSS or Atom
// feeds. Only the first page exists; listing fields are read from the item
// title and description.
package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"realty_tracker/internal/model"
	"realty_tracker/internal/source"
)

// ID identifies the source.
const ID = "feed"

// amountPattern matches "1500", "120,000" and "120 000.50".
const amountPattern = `(\d{1,3}(?:[ ,]\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

var (
	priceRe    = regexp.MustCompile(`(?i)(\$|₾)\s*` + amountPattern + `|` + amountPattern + `\s*(\$|₾|(?:usd|gel)\b)`)
	areaRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:m2|m²|sq\.?\s?m)`)
	bedroomsRe = regexp.MustCompile(`(?i)(\d+)\s*(?:bedrooms?|beds?)\b`)
	roomsRe    = regexp.MustCompile(`(?i)(\d+)\s*rooms?\b`)
)

// Adapter reads listings from a set of feeds, one page fetcher per feed.
type Adapter struct {
	client source.HTTPClient
	urls   []string
}

// New creates an adapter for the given feed urls.
func New(client source.HTTPClient, urls []string) *Adapter {
	return &Adapter{client: client, urls: urls}
}

// ID implements source.Adapter.
func (a *Adapter) ID() string { return ID }

// URL implements source.Adapter. Entity ids of linked items are their links.
func (a *Adapter) URL(entityID string) string {
	if strings.HasPrefix(entityID, "http://") || strings.HasPrefix(entityID, "https://") {
		return entityID
	}
	return "unknown"
}

// Prepare implements source.Adapter.
func (a *Adapter) Prepare(context.Context) (source.Session, error) {
	return nil, nil
}

// PageFetchers implements source.Adapter.
func (a *Adapter) PageFetchers() []source.PageFunc {
	fetchers := make([]source.PageFunc, len(a.urls))
	for i, u := range a.urls {
		fetchers[i] = func(ctx context.Context, _ source.Session, page int) (source.Page, error) {
			if page > 1 {
				return source.Page{}, nil
			}
			return a.fetch(ctx, u)
		}
	}
	return fetchers
}

// FetchDetail returns the entity parsed from the feed item.
func (a *Adapter) FetchDetail(_ context.Context, _ source.Session, item source.Item) (model.Entity, error) {
	if item.Entity == nil {
		return model.Entity{}, fmt.Errorf("feed item %s has no entity", item.EntityID)
	}
	return *item.Entity, nil
}

func (a *Adapter) fetch(ctx context.Context, url string) (source.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return source.Page{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := source.Do(a.client, req)
	if err != nil {
		return source.Page{}, err
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return source.Page{}, fmt.Errorf("parse feed: %w", err)
	}

	page := source.Page{HasNonPremium: len(parsed.Items) > 0}
	for _, item := range parsed.Items {
		e := ToEntity(item)
		page.Items = append(page.Items, source.Item{EntityID: e.EntityID, Entity: &e})
	}
	return page, nil
}

// ItemID returns the link of an item, falling back to its GUID and then to
// a hash of title and description.
func ItemID(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Description))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// ToEntity reads listing fields from a feed item.
func ToEntity(item *gofeed.Item) model.Entity {
	text := item.Title + "\n" + item.Description

	e := model.Entity{
		EntityID:   ItemID(item),
		Currency:   model.CurrencyUnknown,
		RealtyType: model.RealtyUnknown,
	}
	if item.PublishedParsed != nil {
		e.PostedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		e.PostedAt = item.UpdatedParsed.UTC()
	} else {
		e.PostedAt = time.Now().UTC()
	}

	if m := priceRe.FindStringSubmatch(text); m != nil {
		amount, symbol := m[2], m[1]
		if amount == "" {
			amount, symbol = m[3], m[4]
		}
		e.Price = number(amount)
		switch strings.ToLower(symbol) {
		case "$", "usd":
			e.Currency = model.CurrencyUSD
		case "₾", "gel":
			e.Currency = model.CurrencyGEL
		}
	}
	if m := areaRe.FindStringSubmatch(text); m != nil {
		e.AreaSize = number(m[1])
	}
	if m := bedroomsRe.FindStringSubmatch(text); m != nil {
		e.Bedrooms = int(number(m[1]))
	}
	if m := roomsRe.FindStringSubmatch(text); m != nil {
		e.Rooms = int(number(m[1]))
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "house"):
		e.RealtyType = model.RealtyHouse
	case strings.Contains(lower, "apartment"), strings.Contains(lower, "flat"):
		e.RealtyType = model.RealtyApartment
	}

	e.Location.Address = strings.TrimSpace(item.Title)
	return e
}

func number(s string) float64 {
	s = strings.NewReplacer(" ", "", ",", "").Replace(s)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
