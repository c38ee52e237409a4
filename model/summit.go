package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidSummit indicates a summit record failed validation.
var ErrInvalidSummit = errors.New("invalid summit")

// Summit is a catalogued peak. Prominence and Isolation are optional and, in
// the datasets we have, never both present.
type Summit struct {
	ID int64
	Point

	Prominence *float64 // metres
	Isolation  *float64 // metres
}

// Validate checks coordinate ranges and elevation. A longitude of exactly 180
// is folded onto -180 so that longitudes live in [-180, 180).
func (s *Summit) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil summit", ErrInvalidSummit)
	}
	if math.IsNaN(s.Lat) || s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("%w: summit %d latitude %v out of range", ErrInvalidSummit, s.ID, s.Lat)
	}
	if math.IsNaN(s.Lng) || s.Lng < -180 || s.Lng > 180 {
		return fmt.Errorf("%w: summit %d longitude %v out of range", ErrInvalidSummit, s.ID, s.Lng)
	}
	if s.Lng == 180 {
		s.Lng = -180
	}
	if !s.HasElevation() {
		return fmt.Errorf("%w: summit %d has no elevation", ErrInvalidSummit, s.ID)
	}
	if s.Prominence != nil && (math.IsNaN(*s.Prominence) || *s.Prominence < 0) {
		return fmt.Errorf("%w: summit %d prominence %v", ErrInvalidSummit, s.ID, *s.Prominence)
	}
	if s.Isolation != nil && (math.IsNaN(*s.Isolation) || *s.Isolation < 0) {
		return fmt.Errorf("%w: summit %d isolation %v", ErrInvalidSummit, s.ID, *s.Isolation)
	}
	return nil
}

// HigherThan orders summits by descending elevation, breaking ties by
// ascending id so that the order is deterministic.
func (s Summit) HigherThan(other Summit) bool {
	if s.Elevation != other.Elevation {
		return s.Elevation > other.Elevation
	}
	return s.ID < other.ID
}

// SortByElevation sorts summits in place, highest first.
func SortByElevation(summits []Summit) {
	sort.SliceStable(summits, func(i, j int) bool {
		return summits[i].HigherThan(summits[j])
	})
}

// Float returns a pointer to v, for populating optional attributes.
func Float(v float64) *float64 { return &v }
