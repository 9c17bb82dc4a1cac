// Package ssge is the ss.ge listing source. Search results come from its JSON
// API and already carry every field, so no detail request is made.
package ssge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"realty_tracker/internal/model"
	"realty_tracker/internal/source"
)

// ID identifies the source.
const ID = "ss.ge"

const (
	defaultSiteURL = "https://home.ss.ge"
	defaultAPIURL  = "https://api-gateway.ss.ge"
	tokenCookie    = "ss-session-token"

	tbilisiCityID = 95
	pageSize      = 20

	typeHouse = 4
	typeFlat  = 5
	typeComm  = 6

	currencyGEL = 1
)

type session struct {
	token string
}

// Adapter implements source.Adapter for ss.ge.
type Adapter struct {
	client  source.HTTPClient
	siteURL string
	apiURL  string
}

// New creates an adapter against the public endpoints.
func New(client source.HTTPClient) *Adapter {
	return NewWithEndpoints(client, defaultSiteURL, defaultAPIURL)
}

// NewWithEndpoints creates an adapter with custom base urls (useful for testing).
func NewWithEndpoints(client source.HTTPClient, siteURL, apiURL string) *Adapter {
	return &Adapter{
		client:  client,
		siteURL: strings.TrimRight(siteURL, "/"),
		apiURL:  strings.TrimRight(apiURL, "/"),
	}
}

// ID implements source.Adapter.
func (a *Adapter) ID() string { return ID }

// URL implements source.Adapter.
func (a *Adapter) URL(entityID string) string {
	return a.siteURL + "/en/real-estate/" + entityID
}

// Prepare fetches the session token the search API requires.
func (a *Adapter) Prepare(ctx context.Context) (source.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.siteURL+"/ka/udzravi-qoneba", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := source.Do(a.client, req)
	if err != nil {
		return nil, err
	}
	token, ok := resp.Cookie(tokenCookie)
	if !ok || token == "" {
		return nil, fmt.Errorf("no %s cookie in response", tokenCookie)
	}
	return session{token: token}, nil
}

// PageFetchers returns one search per realty type.
func (a *Adapter) PageFetchers() []source.PageFunc {
	return []source.PageFunc{a.search(typeHouse), a.search(typeFlat)}
}

// FetchDetail returns the entity the search page already carried.
func (a *Adapter) FetchDetail(_ context.Context, _ source.Session, item source.Item) (model.Entity, error) {
	if item.Entity == nil {
		return model.Entity{}, fmt.Errorf("ss.ge item %s has no entity", item.EntityID)
	}
	return *item.Entity, nil
}

type searchRequest struct {
	CityIDList         []int `json:"cityIdList"`
	CurrencyID         int   `json:"currencyId"`
	Page               int   `json:"page"`
	PageSize           int   `json:"pageSize"`
	RealEstateDealType int   `json:"realEstateDealType"`
	Order              int   `json:"order"`
	RealEstateType     int   `json:"realEstateType"`
}

type searchResponse struct {
	Items []listing `json:"realStateItemModel"`
}

type listing struct {
	ApplicationID int64 `json:"applicationId"`
	Address       struct {
		DistrictTitle    string  `json:"districtTitle"`
		SubdistrictID    int64   `json:"subdistrictId"`
		SubdistrictTitle string  `json:"subdistrictTitle"`
		StreetID         int64   `json:"streetId"`
		StreetTitle      string  `json:"streetTitle"`
		StreetNumber     *string `json:"streetNumber"`
	} `json:"address"`
	Price struct {
		PriceGeo     *float64 `json:"priceGeo"`
		PriceUsd     *float64 `json:"priceUsd"`
		CurrencyType int      `json:"currencyType"`
	} `json:"price"`
	TotalArea        float64 `json:"totalArea"`
	NumberOfBedrooms int     `json:"numberOfBedrooms"`
	Type             int     `json:"type"`
	VipStatus        int     `json:"vipStatus"`
	CreateDate       string  `json:"createDate"`
}

func (a *Adapter) search(realtyType int) source.PageFunc {
	return func(ctx context.Context, s source.Session, page int) (source.Page, error) {
		sess, ok := s.(session)
		if !ok {
			return source.Page{}, errors.New("ss.ge session not prepared")
		}

		body, err := json.Marshal(searchRequest{
			CityIDList:         []int{tbilisiCityID},
			CurrencyID:         1,
			Page:               page,
			PageSize:           pageSize,
			RealEstateDealType: 1,
			Order:              1,
			RealEstateType:     realtyType,
		})
		if err != nil {
			return source.Page{}, fmt.Errorf("encode search: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/v1/RealEstate/LegendSearch", bytes.NewReader(body))
		if err != nil {
			return source.Page{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+sess.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := source.Do(a.client, req)
		if err != nil {
			return source.Page{}, err
		}
		var parsed searchResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return source.Page{}, fmt.Errorf("decode search: %w", err)
		}

		var result source.Page
		for _, l := range parsed.Items {
			if l.VipStatus == 0 {
				result.HasNonPremium = true
			}
			e, ok := toEntity(l)
			if !ok {
				continue
			}
			result.Items = append(result.Items, source.Item{EntityID: e.EntityID, Entity: &e})
		}
		return result, nil
	}
}

// toEntity maps a listing. Listings without both prices are skipped.
func toEntity(l listing) (model.Entity, bool) {
	if l.Price.PriceGeo == nil || l.Price.PriceUsd == nil || *l.Price.PriceGeo == 0 || *l.Price.PriceUsd == 0 {
		return model.Entity{}, false
	}

	e := model.Entity{
		EntityID:   strconv.FormatInt(l.ApplicationID, 10),
		Price:      *l.Price.PriceUsd,
		Currency:   model.CurrencyUSD,
		RealtyType: realtyType(l.Type),
		AreaSize:   l.TotalArea,
		Rooms:      l.NumberOfBedrooms,
		Bedrooms:   l.NumberOfBedrooms,
		PostedAt:   parseDate(l.CreateDate),
	}
	if l.Price.CurrencyType == currencyGEL {
		e.Price = *l.Price.PriceGeo
		e.Currency = model.CurrencyGEL
	}

	addr := l.Address.StreetTitle
	if l.Address.StreetNumber != nil && *l.Address.StreetNumber != "" {
		addr += " " + *l.Address.StreetNumber
	}
	e.Location.Address = addr
	if l.Address.DistrictTitle != "" {
		e.Location.District = &l.Address.DistrictTitle
	}
	if l.Address.SubdistrictTitle != "" {
		e.Location.Subdistrict = &l.Address.SubdistrictTitle
	}
	if l.Address.StreetID != 0 {
		e.Location.StreetRef = strconv.FormatInt(l.Address.StreetID, 10)
	}
	if l.Address.SubdistrictID != 0 {
		e.Location.SubdistrictRef = strconv.FormatInt(l.Address.SubdistrictID, 10)
	}
	return e, true
}

func realtyType(t int) model.RealtyType {
	switch t {
	case typeHouse:
		return model.RealtyHouse
	case typeFlat:
		return model.RealtyApartment
	case typeComm:
		return model.RealtyCommercial
	default:
		return model.RealtyUnknown
	}
}

// parseDate accepts RFC 3339 and the zone-less form the API uses.
func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
