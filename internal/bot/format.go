package bot

import (
	"fmt"
	"strconv"
	"strings"

	"realty_tracker/internal/model"
)

const (
	statusEnabled  = "enabled"
	statusDisabled = "disabled"
)

// FormatRange renders a range for display.
func FormatRange(r model.Range) string {
	switch {
	case r.Min != nil && r.Max != nil:
		return fmt.Sprintf("from %s to %s", num(*r.Min), num(*r.Max))
	case r.Min != nil:
		return "from " + num(*r.Min)
	case r.Max != nil:
		return "up to " + num(*r.Max)
	default:
		return "no limits"
	}
}

// FormatFilters renders every set filter of a request on one line.
func FormatFilters(set model.FilterSet) string {
	var parts []string
	if p := set.Price; p != nil {
		parts = append(parts, FormatRange(p.Range)+"$ "+priceBasisLabel(p.Basis))
	}
	if a := set.Area; a != nil {
		parts = append(parts, FormatRange(*a)+" m2")
	}
	if l := set.Location; l != nil {
		parts = append(parts, locationLabel(l))
	}
	if r := set.Rooms; r != nil {
		label := "rooms"
		if r.Basis == model.RoomsBedrooms {
			label = "bedrooms"
		}
		parts = append(parts, FormatRange(r.Range)+" "+label)
	}
	if len(parts) == 0 {
		return "any listing"
	}
	return strings.Join(parts, "; ")
}

// FormatRequest renders a request with its status.
func FormatRequest(r *model.TrackerRequest) string {
	status := statusEnabled
	if !r.Enabled {
		status = statusDisabled
	}
	return fmt.Sprintf("%s [%s]", FormatFilters(r.Filter), status)
}

// FormatMatches renders the match history summary of a request.
func FormatMatches(ids []string, latest int) string {
	if len(ids) == 0 {
		return "No matches yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d listing(s) matched your request so far.", len(ids))
	if latest > len(ids) {
		latest = len(ids)
	}
	b.WriteString("\nLatest:")
	for _, id := range ids[len(ids)-latest:] {
		fmt.Fprintf(&b, "\n  %s", id)
	}
	return b.String()
}

func priceBasisLabel(b model.PriceBasis) string {
	switch b {
	case model.PricePerArea:
		return "per m2"
	case model.PricePerRoom:
		return "per room"
	case model.PricePerBedroom:
		return "per bedroom"
	default:
		return "total"
	}
}

func locationLabel(l *model.LocationFilter) string {
	switch l.Kind {
	case model.LocationDistrict:
		return "in districts " + strings.Join(l.Districts, ", ")
	case model.LocationSubdistrict:
		return "in subdistricts " + strings.Join(l.Subdistricts, ", ")
	default:
		n := 0
		for _, ring := range l.Polygon {
			n += len(ring)
		}
		return fmt.Sprintf("in a polygon of %d points", n)
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
