// Package myhome is the myhome.ge listing source. Search pages list ids only;
// every listing is read from its HTML page.
package myhome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"realty_tracker/internal/model"
	"realty_tracker/internal/source"
)

// ID identifies the source.
const ID = "myhome.ge"

const (
	defaultBaseURL = "https://www.myhome.ge"
	tbilisiGID     = "1996871"
)

var (
	pixelDataRe    = regexp.MustCompile(`var fbPixelData = (.*?);`)
	trackingDataRe = regexp.MustCompile(`var TrackingData = (.*?);`)
	numberRe       = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// Adapter implements source.Adapter for myhome.ge.
type Adapter struct {
	client  source.HTTPClient
	baseURL string
	now     func() time.Time
}

// New creates an adapter against the public site.
func New(client source.HTTPClient) *Adapter {
	return NewWithBaseURL(client, defaultBaseURL)
}

// NewWithBaseURL creates an adapter with a custom base url (useful for testing).
func NewWithBaseURL(client source.HTTPClient, baseURL string) *Adapter {
	return &Adapter{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// ID implements source.Adapter.
func (a *Adapter) ID() string { return ID }

// URL implements source.Adapter.
func (a *Adapter) URL(entityID string) string {
	return a.baseURL + "/en/pr/" + entityID + "/"
}

// Prepare implements source.Adapter. The site needs no session.
func (a *Adapter) Prepare(context.Context) (source.Session, error) {
	return nil, nil
}

// PageFetchers implements source.Adapter.
func (a *Adapter) PageFetchers() []source.PageFunc {
	return []source.PageFunc{a.search}
}

type searchResponse struct {
	Data struct {
		Prs []struct {
			ProductID string `json:"product_id"`
			Vip       string `json:"vip"`
		} `json:"Prs"`
	} `json:"Data"`
}

func (a *Adapter) search(ctx context.Context, _ source.Session, page int) (source.Page, error) {
	q := url.Values{
		"Keyword":  {"Tbilisi"},
		"AdTypeID": {"3"},
		"PrTypeID": {"1.2"},
		"cities":   {tbilisiGID},
		"GID":      {tbilisiGID},
		"Ajax":     {"1"},
		"Page":     {strconv.Itoa(page)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/en/s/?"+q.Encode(), nil)
	if err != nil {
		return source.Page{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := source.Do(a.client, req)
	if err != nil {
		return source.Page{}, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return source.Page{}, fmt.Errorf("decode search: %w", err)
	}

	var result source.Page
	for _, p := range parsed.Data.Prs {
		if p.Vip == "0" {
			result.HasNonPremium = true
		}
		result.Items = append(result.Items, source.Item{EntityID: p.ProductID})
	}
	return result, nil
}

// FetchDetail downloads and parses the listing page.
func (a *Adapter) FetchDetail(ctx context.Context, _ source.Session, item source.Item) (model.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL(item.EntityID), nil)
	if err != nil {
		return model.Entity{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := source.Do(a.client, req)
	if err != nil {
		return model.Entity{}, err
	}
	e, err := a.parse(resp.Body)
	if err != nil {
		return model.Entity{}, fmt.Errorf("parse %s: %w", item.EntityID, err)
	}
	e.EntityID = item.EntityID
	return e, nil
}

type pixelData struct {
	PriceRange []json.Number `json:"preferred_price_range"`
	Currency   string        `json:"currency"`
}

type trackingData struct {
	PrTypeID string `json:"prtype_id"`
	AreaSize string `json:"area_size"`
	Rooms    string `json:"rooms"`
	Bedrooms string `json:"bedrooms"`
}

func (a *Adapter) parse(body []byte) (model.Entity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.Entity{}, fmt.Errorf("parse html: %w", err)
	}

	var pixel pixelData
	var tracking trackingData
	var foundPixel, foundTracking bool
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if m := pixelDataRe.FindStringSubmatch(text); m != nil && !foundPixel {
			foundPixel = json.Unmarshal([]byte(m[1]), &pixel) == nil
		}
		if m := trackingDataRe.FindStringSubmatch(text); m != nil && !foundTracking {
			foundTracking = json.Unmarshal([]byte(m[1]), &tracking) == nil
		}
	})
	if !foundPixel || !foundTracking || len(pixel.PriceRange) == 0 {
		return model.Entity{}, fmt.Errorf("listing data not found")
	}

	price, err := pixel.PriceRange[0].Float64()
	if err != nil {
		return model.Entity{}, fmt.Errorf("price %q: %w", pixel.PriceRange[0], err)
	}

	e := model.Entity{
		Price:      price,
		Currency:   model.CurrencyGEL,
		RealtyType: realtyType(tracking.PrTypeID),
		AreaSize:   atof(tracking.AreaSize),
		Rooms:      int(atof(tracking.Rooms)),
		Bedrooms:   int(atof(tracking.Bedrooms)),
	}
	if pixel.Currency == "USD" {
		e.Currency = model.CurrencyUSD
	}

	doc.Find(".amenities-ul .d-block").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "Yard area") {
			return true
		}
		if _, after, ok := strings.Cut(text, ":"); ok {
			if m := numberRe.FindString(after); m != "" {
				yard := atof(m)
				e.YardAreaSize = &yard
			}
		}
		return false
	})

	e.Location.Address = "unknown"
	if addr := strings.TrimSpace(doc.Find("span.address").First().Text()); addr != "" {
		e.Location.Address = addr
	}

	if m := doc.Find("#map").First(); m.Length() > 0 {
		lng, errLng := strconv.ParseFloat(m.AttrOr("data-lng", ""), 64)
		lat, errLat := strconv.ParseFloat(m.AttrOr("data-lat", ""), 64)
		if errLng == nil && errLat == nil {
			e.Location.Coordinates = &model.Point{Lng: lng, Lat: lat}
		}
	}

	e.PostedAt = parsePosted(strings.TrimSpace(doc.Find(".date span").First().Text()), a.now())
	return e, nil
}

func realtyType(id string) model.RealtyType {
	switch id {
	case "1":
		return model.RealtyApartment
	case "2":
		return model.RealtyHouse
	case "4":
		return model.RealtyCommercial
	case "5":
		return model.RealtyLand
	case "7":
		return model.RealtyHotel
	default:
		return model.RealtyUnknown
	}
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	return v
}

// parsePosted reads the listing date, such as "Today 14:05" or "12 May 09:30",
// in the site's local time.
func parsePosted(s string, now time.Time) time.Time {
	if s == "" {
		return time.Time{}
	}
	loc := tbilisi()
	now = now.In(loc)

	day, clock, ok := strings.Cut(s, " ")
	switch {
	case ok && (day == "Today" || day == "Yesterday"):
		t, err := time.ParseInLocation("15:04", clock, loc)
		if err != nil {
			return time.Time{}
		}
		d := now
		if day == "Yesterday" {
			d = now.AddDate(0, 0, -1)
		}
		return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc).UTC()
	default:
		for _, layout := range []string{"02 Jan 2006 15:04", "2 Jan 2006 15:04"} {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.UTC()
			}
		}
		for _, layout := range []string{"02 Jan 15:04", "2 Jan 15:04"} {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).UTC()
			}
		}
		return time.Time{}
	}
}

func tbilisi() *time.Location {
	loc, err := time.LoadLocation("Asia/Tbilisi")
	if err != nil {
		return time.FixedZone("GET", 4*60*60)
	}
	return loc
}
