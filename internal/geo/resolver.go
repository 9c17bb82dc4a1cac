// Package geo decides whether a listing lies inside the serviced area.
package geo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"realty_tracker/internal/model"
)

// Street is a reference street. ParentID points at a subdistrict.
type Street struct {
	ID          string       `yaml:"id"`
	ParentID    string       `yaml:"parent_id"`
	Coordinates *model.Point `yaml:"coordinates"`
}

// Subdistrict is a reference subdistrict. ParentID points at a district.
type Subdistrict struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ParentID string `yaml:"parent_id"`
	Liveable bool   `yaml:"liveable"`
}

// District is a reference district.
type District struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Data is the on-disk form of the reference tables and service boundary.
type Data struct {
	Boundary     MultiPolygon  `yaml:"boundary"`
	Streets      []Street      `yaml:"streets"`
	Subdistricts []Subdistrict `yaml:"subdistricts"`
	Districts    []District    `yaml:"districts"`
}

// Resolver answers location questions from static reference tables.
type Resolver struct {
	boundary     MultiPolygon
	streets      map[string]Street
	subdistricts map[string]Subdistrict
	districts    map[string]District
}

// New indexes the reference data.
func New(d Data) *Resolver {
	r := &Resolver{
		boundary:     d.Boundary,
		streets:      make(map[string]Street, len(d.Streets)),
		subdistricts: make(map[string]Subdistrict, len(d.Subdistricts)),
		districts:    make(map[string]District, len(d.Districts)),
	}
	for _, s := range d.Streets {
		r.streets[s.ID] = s
	}
	for _, s := range d.Subdistricts {
		r.subdistricts[s.ID] = s
	}
	for _, s := range d.Districts {
		r.districts[s.ID] = s
	}
	return r
}

// Load reads reference data from a YAML (or JSON) file.
// An empty path yields a resolver that accepts everything.
func Load(path string) (*Resolver, error) {
	if path == "" {
		return New(Data{}), nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read geo data: %w", err)
	}
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse geo data: %w", err)
	}
	return New(d), nil
}

// InArea reports whether a location lies inside the serviced area.
//
// Order of evidence: listing coordinates, street coordinates, the street's
// parent subdistrict, the listing's own subdistrict. Unresolvable locations
// are accepted.
func (r *Resolver) InArea(loc model.Location) bool {
	hasBoundary := len(r.boundary) > 0

	if loc.Coordinates != nil && hasBoundary {
		return r.boundary.Contains(*loc.Coordinates)
	}

	if street, ok := r.streets[loc.StreetRef]; ok && loc.StreetRef != "" {
		if street.Coordinates != nil && hasBoundary {
			return r.boundary.Contains(*street.Coordinates)
		}
		if sub, ok := r.subdistricts[street.ParentID]; ok {
			return sub.Liveable
		}
	}

	if sub, ok := r.subdistricts[loc.SubdistrictRef]; ok && loc.SubdistrictRef != "" {
		return sub.Liveable
	}

	return true
}

// Annotate fills missing subdistrict and district names from the reference
// ids carried by the location.
func (r *Resolver) Annotate(loc *model.Location) {
	subRef := loc.SubdistrictRef
	if subRef == "" {
		if street, ok := r.streets[loc.StreetRef]; ok {
			subRef = street.ParentID
		}
	}
	sub, ok := r.subdistricts[subRef]
	if !ok {
		return
	}
	if loc.Subdistrict == nil && sub.Name != "" {
		name := sub.Name
		loc.Subdistrict = &name
	}
	if d, ok := r.districts[sub.ParentID]; ok && loc.District == nil && d.Name != "" {
		name := d.Name
		loc.District = &name
	}
}
