package model

import "math"

// Point is a location on the Earth's surface in degrees with an elevation in
// metres above mean sea level. Elevation may be NaN until it has been fetched.
type Point struct {
	Lat       float64
	Lng       float64
	Elevation float64
}

// NewPoint returns a Point whose elevation has not been fetched yet.
func NewPoint(lat, lng float64) Point {
	return Point{Lat: lat, Lng: lng, Elevation: math.NaN()}
}

// HasElevation reports whether the elevation is known.
func (p Point) HasElevation() bool {
	return !math.IsNaN(p.Elevation) && !math.IsInf(p.Elevation, 0)
}

// SameLocation reports whether two points share latitude and longitude.
func (p Point) SameLocation(other Point) bool {
	return p.Lat == other.Lat && p.Lng == other.Lng
}
