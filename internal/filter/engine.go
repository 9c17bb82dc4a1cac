// Package filter implements the listing matching engine.
package filter

import (
	"slices"

	"realty_tracker/internal/model"
)

// ApproximateGELRate is the number of lari per US dollar used to bring
// prices into the reference currency.
const ApproximateGELRate = 3.1

// Match checks whether an entity passes every filter of the request.
// Absent filters always pass.
func Match(e model.Entity, f model.FilterSet) bool {
	return matchPrice(e, f.Price) &&
		matchArea(e, f.Area) &&
		matchRooms(e, f.Rooms) &&
		matchLocation(e, f.Location)
}

// PriceUSD converts an entity price into the reference currency.
func PriceUSD(e model.Entity) float64 {
	if e.Currency == model.CurrencyUSD {
		return e.Price
	}
	return e.Price / ApproximateGELRate
}

func matchPrice(e model.Entity, f *model.PriceFilter) bool {
	if f == nil {
		return true
	}
	price := PriceUSD(e)
	switch f.Basis {
	case model.PricePerRoom:
		return matchPer(price, float64(e.Rooms), f.Range)
	case model.PricePerBedroom:
		return matchPer(price, float64(e.Bedrooms), f.Range)
	case model.PricePerArea:
		return matchPer(price, e.AreaSize, f.Range)
	default:
		return f.Contains(price)
	}
}

// matchPer divides price by a count. A zero divisor can only satisfy an
// unconstrained range.
func matchPer(price, divisor float64, r model.Range) bool {
	if divisor <= 0 {
		return r.IsZero()
	}
	return r.Contains(price / divisor)
}

func matchArea(e model.Entity, r *model.Range) bool {
	if r == nil {
		return true
	}
	return r.Contains(e.AreaSize)
}

func matchRooms(e model.Entity, f *model.RoomsFilter) bool {
	if f == nil {
		return true
	}
	if f.Basis == model.RoomsBedrooms {
		return f.Contains(float64(e.Bedrooms))
	}
	return f.Contains(float64(e.Rooms))
}

func matchLocation(e model.Entity, f *model.LocationFilter) bool {
	if f == nil {
		return true
	}
	switch f.Kind {
	case model.LocationDistrict:
		if e.Location.District == nil {
			return true
		}
		return slices.Contains(f.Districts, *e.Location.District)
	case model.LocationSubdistrict:
		if e.Location.Subdistrict == nil {
			return true
		}
		return slices.Contains(f.Subdistricts, *e.Location.Subdistrict)
	default:
		// Polygons are applied once at crawl time by the geo resolver.
		return true
	}
}
