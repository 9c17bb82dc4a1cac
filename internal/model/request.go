package model

import "time"

// Range is a numeric interval. A nil bound is open on that side.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contains reports whether v lies within the range, bounds inclusive.
// A range without bounds contains every value.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return r.Min == nil && r.Max == nil
}

// PriceBasis selects what the price is divided by before comparison.
type PriceBasis string

// Supported price bases.
const (
	PriceTotal      PriceBasis = "total"
	PricePerRoom    PriceBasis = "per-room"
	PricePerBedroom PriceBasis = "per-bedroom"
	PricePerArea    PriceBasis = "per-meter"
)

// PriceFilter constrains the reference-currency price.
type PriceFilter struct {
	Basis PriceBasis `json:"type"`
	Range
}

// RoomsBasis selects which room count a RoomsFilter tests.
type RoomsBasis string

// Supported room bases.
const (
	RoomsTotal    RoomsBasis = "rooms"
	RoomsBedrooms RoomsBasis = "bedrooms"
)

// RoomsFilter constrains the room or bedroom count.
type RoomsFilter struct {
	Basis RoomsBasis `json:"type"`
	Range
}

// LocationKind selects the LocationFilter variant.
type LocationKind string

// Supported location filter kinds.
const (
	LocationDistrict    LocationKind = "district"
	LocationSubdistrict LocationKind = "subdistrict"
	LocationPolygon     LocationKind = "polygon"
)

// LocationFilter constrains where a listing is.
// Polygon holds a multipolygon as a list of rings.
type LocationFilter struct {
	Kind         LocationKind `json:"type"`
	Districts    []string     `json:"districts,omitempty"`
	Subdistricts []string     `json:"subdistricts,omitempty"`
	Polygon      [][]Point    `json:"polygon,omitempty"`
}

// FilterSet is the full set of optional filters of a request.
// A nil filter always passes.
type FilterSet struct {
	Price    *PriceFilter    `json:"price,omitempty"`
	Area     *Range          `json:"area,omitempty"`
	Rooms    *RoomsFilter    `json:"rooms,omitempty"`
	Location *LocationFilter `json:"location,omitempty"`
}

// NotifierKind is the delivery channel of a notifier.
type NotifierKind string

// Supported notifier kinds.
const (
	NotifierTelegram NotifierKind = "telegram"
)

// Notifier is a delivery target.
type Notifier struct {
	Kind    NotifierKind `json:"type"`
	Address string       `json:"address"`
}

// TrackerRequest is a persisted subscription.
type TrackerRequest struct {
	ID         string
	Enabled    bool
	Filter     FilterSet
	NotifiedAt time.Time
	Notifiers  []Notifier
	CreatedAt  time.Time
}
