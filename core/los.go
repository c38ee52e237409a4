package core

import (
	"math"

	"github.com/twpayne/go-polyline"

	"github.com/jgbreault/PinnaclePoints/model"
)

// LosPoint is one sample along a line of sight.
type LosPoint struct {
	model.Point

	SurfaceDistance  float64 // along the ground from the observer
	StraightDistance float64 // along the observer-target line
	GroundHeight     float64 // terrain height above the observer-target line
	LightHeight      float64 // light path height above the observer-target line
}

// Clear reports whether the light path passes above the terrain here.
func (p LosPoint) Clear() bool { return p.GroundHeight < p.LightHeight }

// LineOfSight is a fully sampled path between two summits.
type LineOfSight struct {
	Observer model.Summit
	Target   model.Summit

	SurfaceDistance  float64
	StraightDistance float64
	LightCurvature   float64
	EndBuffer        float64

	// Points runs from observer to target inclusive.
	Points []LosPoint

	refraction Refraction
	atmosphere Atmosphere
}

// Blocking returns the first sample outside the end buffers whose terrain
// reaches the light path.
func (l *LineOfSight) Blocking() (LosPoint, bool) {
	for _, p := range l.Points {
		if p.StraightDistance <= l.EndBuffer || p.StraightDistance >= l.StraightDistance-l.EndBuffer {
			continue
		}
		if !p.Clear() {
			return p, true
		}
	}
	return LosPoint{}, false
}

// Visible reports whether the path is unobstructed.
func (l *LineOfSight) Visible() bool {
	_, blocked := l.Blocking()
	return !blocked
}

// Contrast returns the apparent contrast of the target from the observer.
func (l *LineOfSight) Contrast() float64 {
	return l.atmosphere.Contrast(l.refraction, l.Observer.Elevation, l.Target.Elevation, l.SurfaceDistance)
}

// LightPathLength returns the length of the light arc.
func (l *LineOfSight) LightPathLength() float64 {
	if math.IsInf(l.LightCurvature, 1) {
		return l.StraightDistance
	}
	rc := l.LightCurvature * l.refraction.Radius
	half := l.StraightDistance / 2
	if half >= rc {
		return math.Pi * rc
	}
	return 2 * rc * math.Asin(half/rc)
}

// Clearance returns the smallest margin between light and terrain outside
// the end buffers, negative when the path is blocked.
func (l *LineOfSight) Clearance() float64 {
	margin := math.Inf(1)
	for _, p := range l.Points {
		if p.StraightDistance <= l.EndBuffer || p.StraightDistance >= l.StraightDistance-l.EndBuffer {
			continue
		}
		margin = math.Min(margin, p.LightHeight-p.GroundHeight)
	}
	return margin
}

// EncodedPath returns the sampled path as an encoded polyline.
func (l *LineOfSight) EncodedPath() string {
	coords := make([][]float64, 0, len(l.Points))
	for _, p := range l.Points {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return string(polyline.EncodeCoords(coords))
}
