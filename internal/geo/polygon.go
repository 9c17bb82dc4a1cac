package geo

import "realty_tracker/internal/model"

// MultiPolygon is a set of closed rings. A point inside an odd number of
// rings is inside the shape, so holes can be expressed as nested rings.
type MultiPolygon [][]model.Point

// Contains reports whether p lies inside the shape.
func (m MultiPolygon) Contains(p model.Point) bool {
	inside := false
	for _, ring := range m {
		if ringContains(ring, p) {
			inside = !inside
		}
	}
	return inside
}

// ringContains is the even-odd ray casting test.
func ringContains(ring []model.Point, p model.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
