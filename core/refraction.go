package core

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// Refraction models light travelling along a circular arc of radius
// Curvature × Radius, bending in the same sense as the Earth's surface.
type Refraction struct {
	Radius    float64 // Earth radius, metres
	Curvature float64 // light radius / Earth radius; +Inf for straight light
}

// NewRefraction returns the refraction model described by cfg.
func NewRefraction(cfg Config) Refraction {
	return Refraction{Radius: cfg.EarthRadius, Curvature: cfg.LightCurvature}
}

// EffectiveRadius is the radius of a fictitious Earth over which light
// travels in straight lines.
func (r Refraction) EffectiveRadius() float64 {
	if math.IsInf(r.Curvature, 1) {
		return r.Radius
	}
	return r.Curvature * r.Radius / (r.Curvature - 1)
}

// HorizonDistance returns how far in metres light can travel from a point at
// the given elevation before it meets sea level. Non-positive elevations have
// no horizon.
func (r Refraction) HorizonDistance(elevation float64) float64 {
	if !(elevation > 0) {
		return 0
	}
	return math.Sqrt(2 * r.EffectiveRadius() * elevation)
}

// LightHeight returns the height of the light arc above the straight
// observer-target line at distance x along a line of length d. The arc is
// the circle of radius Curvature × Radius through both ends.
func (r Refraction) LightHeight(x, d float64) float64 {
	if math.IsInf(r.Curvature, 1) {
		return 0
	}
	rc := r.Curvature * r.Radius
	gamma := rc*rc - d*d/4
	if gamma < 0 {
		gamma = 0
	}
	span := x * (d - x)
	// sqrt(γ+s) - sqrt(γ), rearranged to avoid cancellation.
	return span / (math.Sqrt(gamma+span) + math.Sqrt(gamma))
}

// LightAltitude returns the altitude above sea level of the light path
// between endpoints at altitudes h1 and h2 separated by surface distance d,
// evaluated at surface distance x from the first endpoint. The Earth is
// flattened and the light arc given the effective radius instead.
func (r Refraction) LightAltitude(h1, h2, d, x float64) float64 {
	reff := r.EffectiveRadius()
	dh := h2 - h1
	chord := math.Hypot(d, dh)
	if chord == 0 {
		return h1
	}
	t2 := reff*reff - chord*chord/4
	if t2 < 0 {
		t2 = 0
	}
	t := math.Sqrt(t2)
	x0 := d/2 - (dh/chord)*t
	y0 := (h1+h2)/2 + (d/chord)*t
	q := reff*reff - (x-x0)*(x-x0)
	if q < 0 {
		q = 0
	}
	return y0 - math.Sqrt(q)
}

// Obstructed reports whether any sample between the end buffers reaches the
// light path. Samples within buffer of either end are ignored.
func (r Refraction) Obstructed(samples []ProfileSample, length, buffer float64) (ProfileSample, bool) {
	for _, s := range samples {
		if s.X <= buffer || s.X >= length-buffer {
			continue
		}
		if s.Height >= r.LightHeight(s.X, length) {
			return s, true
		}
	}
	return ProfileSample{}, false
}

// Atmosphere is an exponential scattering atmosphere.
type Atmosphere struct {
	ScatterCoefficient float64 // 1/m at sea level
	ScaleHeight        float64 // m
	ShadedLength       float64 // m of path before the target in shade
	ShadeRatio         float64 // shaded irradiance relative to lit
	Nodes              int
}

// NewAtmosphere returns the atmosphere described by cfg.
func NewAtmosphere(cfg Config) Atmosphere {
	return Atmosphere{
		ScatterCoefficient: cfg.ScatterCoefficient,
		ScaleHeight:        cfg.ScaleHeight,
		ShadedLength:       cfg.ShadedLength,
		ShadeRatio:         cfg.ShadeRatio,
		Nodes:              cfg.ContrastNodes,
	}
}

// Contrast returns the apparent contrast of a dark target against the sky
// seen from the observer along the light path. Air scatters light into the
// path in proportion to its density and irradiance and that airlight is
// attenuated on its way to the observer, so with optical depth τ(x) from the
// observer the contrast is
//
//	C = 1 - ∫ β(x) E(x) exp(-τ(x)) dx
//
// which is exp(-τ(d)) when the whole path is lit. A shaded stretch of length
// ShadedLength in front of the target has E = ShadeRatio.
func (a Atmosphere) Contrast(r Refraction, observerElevation, targetElevation, d float64) float64 {
	if d <= 0 || a.ScatterCoefficient == 0 {
		return 1
	}
	nodes := a.Nodes
	if nodes <= 0 {
		nodes = 32
	}
	beta := func(x float64) float64 {
		alt := r.LightAltitude(observerElevation, targetElevation, d, x)
		return a.ScatterCoefficient * math.Exp(-alt/a.ScaleHeight)
	}
	depth := func(to float64) float64 {
		if to <= 0 {
			return 0
		}
		return quad.Fixed(beta, 0, to, nodes, nil, 0)
	}

	shaded := math.Min(math.Max(a.ShadedLength, 0), d)
	tauEnd := depth(d)
	if shaded == 0 || a.ShadeRatio >= 1 {
		return math.Exp(-tauEnd)
	}
	tauLit := depth(d - shaded)
	return math.Exp(-tauEnd) + (1-a.ShadeRatio)*(math.Exp(-tauLit)-math.Exp(-tauEnd))
}
