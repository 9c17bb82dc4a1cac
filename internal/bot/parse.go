package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"realty_tracker/internal/model"
)

// FilterParseError lists the parts of a /request message that could not be
// understood.
type FilterParseError struct {
	Parts []string
}

func (e *FilterParseError) Error() string {
	return fmt.Sprintf("unrecognized filter parts: %s", strings.Join(e.Parts, "; "))
}

// ParseFilters parses the /request filter syntax:
//
//	price-total min:200 max:300; area max:500; rooms min:5
//
// Parts are separated by ";". A part names a filter and at least one of
// min:N and max:N. A later part replaces an earlier one of the same kind.
func ParseFilters(args string) (model.FilterSet, error) {
	var (
		set model.FilterSet
		bad []string
	)
	for _, part := range strings.Split(args, ";") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) == 0 {
			bad = append(bad, part)
			continue
		}
		r, ok := parseRange(fields[1:])
		if !ok || !applyFilter(&set, fields[0], r) {
			bad = append(bad, part)
		}
	}
	if len(bad) > 0 {
		return model.FilterSet{}, &FilterParseError{Parts: bad}
	}
	return set, nil
}

func applyFilter(set *model.FilterSet, key string, r model.Range) bool {
	switch key {
	case "price-total":
		set.Price = &model.PriceFilter{Basis: model.PriceTotal, Range: r}
	case "price-per-meter":
		set.Price = &model.PriceFilter{Basis: model.PricePerArea, Range: r}
	case "price-per-room":
		set.Price = &model.PriceFilter{Basis: model.PricePerRoom, Range: r}
	case "price-per-bedroom":
		set.Price = &model.PriceFilter{Basis: model.PricePerBedroom, Range: r}
	case "area":
		set.Area = &r
	case "rooms":
		set.Rooms = &model.RoomsFilter{Basis: model.RoomsTotal, Range: r}
	case "bedrooms":
		set.Rooms = &model.RoomsFilter{Basis: model.RoomsBedrooms, Range: r}
	default:
		return false
	}
	return true
}

// parseRange reads min:N and max:N elements. Unknown elements and invalid
// numbers are skipped; a range without any bound is rejected.
func parseRange(elems []string) (model.Range, bool) {
	var r model.Range
	for _, el := range elems {
		name, raw, ok := strings.Cut(el, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		switch name {
		case "min":
			r.Min = &v
		case "max":
			r.Max = &v
		}
	}
	return r, !r.IsZero()
}

// ParseChatArg extracts a chat ID from a command argument string.
func ParseChatArg(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("chat ID is required")
	}
	s = strings.Fields(s)[0]
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return "", fmt.Errorf("invalid chat ID %q", s)
	}
	return s, nil
}
