// Package model defines the domain types used across the application.
package model

import "time"

// Currency is the currency a listing price is quoted in.
type Currency string

// Supported currencies.
const (
	CurrencyUSD     Currency = "USD"
	CurrencyGEL     Currency = "GEL"
	CurrencyUnknown Currency = "unknown"
)

// Symbol returns the short display form of the currency.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyUSD:
		return "$"
	case CurrencyGEL:
		return "₾"
	default:
		return "?"
	}
}

// RealtyType classifies a listing.
type RealtyType string

// Supported realty types.
const (
	RealtyApartment  RealtyType = "apartment"
	RealtyHouse      RealtyType = "house"
	RealtyCommercial RealtyType = "commercial"
	RealtyLand       RealtyType = "land"
	RealtyHotel      RealtyType = "hotel"
	RealtyUnknown    RealtyType = "unknown"
)

// Point is a longitude/latitude pair.
type Point struct {
	Lng float64 `yaml:"lng" json:"lng"`
	Lat float64 `yaml:"lat" json:"lat"`
}

// Location describes where a listing is.
// StreetRef and SubdistrictRef are the raw source reference ids used by the
// geo resolver; they are empty when the source does not provide them.
type Location struct {
	Address        string
	District       *string
	Subdistrict    *string
	Coordinates    *Point
	StreetRef      string
	SubdistrictRef string
}

// Entity is a normalized listing.
type Entity struct {
	ID           string
	SourceID     string
	EntityID     string
	Price        float64
	Currency     Currency
	RealtyType   RealtyType
	AreaSize     float64
	YardAreaSize *float64
	Rooms        int
	Bedrooms     int
	Location     Location
	PostedAt     time.Time
	ScrapedAt    time.Time
	// OutOfArea is set at crawl time when the listing resolved outside the
	// serviced area. Such entities are stored but never matched.
	OutOfArea bool
}

// EntityRef identifies an entity within its source.
type EntityRef struct {
	SourceID string
	EntityID string
}

// GlobalID builds the store-wide entity id.
func GlobalID(sourceID, entityID string) string {
	return sourceID + ":" + entityID
}
