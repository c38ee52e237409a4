package core

import (
	"fmt"
	"math"
)

// ProfileSample is one point of a terrain profile in the frame whose x axis
// runs along the straight line from observer to target.
type ProfileSample struct {
	X      float64 // metres from the observer along the observer-target line
	Height float64 // metres above that line
}

// Frame maps surface distance and elevation along a great circle into the
// observer-target frame. Only the endpoints are needed to fix the frame, so
// samples can be projected one batch at a time.
type Frame struct {
	radius         float64
	baseElevation  float64
	cos, sin       float64
	straightLength float64
}

// NewFrame builds the frame for a path of the given surface length between an
// observer and a target at the given elevations.
func NewFrame(radius, surfaceDistance, observerElevation, targetElevation float64) (Frame, error) {
	f := Frame{radius: radius, baseElevation: observerElevation}
	x, y := f.drop(surfaceDistance, targetElevation)
	if !(x > 0) {
		return Frame{}, fmt.Errorf("%w: path of %.0f m has no forward extent", ErrDegenerateGeometry, surfaceDistance)
	}
	length := math.Hypot(x, y)
	// Rotating by -atan(y/x) lays the target on the x axis.
	f.cos = x / length
	f.sin = -y / length
	f.straightLength = length
	return f, nil
}

// drop places a surface point in the observer's tangent frame: x along the
// tangent, y up, with the Earth's curvature subtracted.
func (f Frame) drop(surfaceDistance, elevation float64) (float64, float64) {
	theta := surfaceDistance / f.radius
	x := f.radius * math.Sin(theta)
	y := elevation - f.radius*(1-math.Cos(theta)) - f.baseElevation
	return x, y
}

// Project maps a sample at the given surface distance from the observer into
// the observer-target frame.
func (f Frame) Project(surfaceDistance, elevation float64) ProfileSample {
	x, y := f.drop(surfaceDistance, elevation)
	return ProfileSample{
		X:      x*f.cos - y*f.sin,
		Height: x*f.sin + y*f.cos,
	}
}

// StraightLength is the straight-line distance from observer to target.
func (f Frame) StraightLength() float64 { return f.straightLength }

// BuildProfile converts a terrain profile given as surface distances from the
// observer and elevations into the observer-target frame. The first entry is
// the observer and the last the target.
func BuildProfile(radius float64, distances, elevations []float64) ([]ProfileSample, error) {
	if len(distances) != len(elevations) {
		return nil, fmt.Errorf("profile has %d distances but %d elevations", len(distances), len(elevations))
	}
	if len(distances) < 2 {
		return nil, fmt.Errorf("%w: profile needs both endpoints", ErrDegenerateGeometry)
	}
	last := len(distances) - 1
	frame, err := NewFrame(radius, distances[last]-distances[0], elevations[0], elevations[last])
	if err != nil {
		return nil, err
	}
	out := make([]ProfileSample, len(distances))
	for i := range distances {
		out[i] = frame.Project(distances[i]-distances[0], elevations[i])
	}
	return out, nil
}
