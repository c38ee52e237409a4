package core

import (
	"math"
	"testing"
)

func TestHorizonDistance(t *testing.T) {
	r := NewRefraction(DefaultConfig())

	if h := r.HorizonDistance(0); h != 0 {
		t.Errorf("HorizonDistance(0) = %v, want 0", h)
	}
	if h := r.HorizonDistance(-50); h != 0 {
		t.Errorf("HorizonDistance(-50) = %v, want 0", h)
	}

	prev := 0.0
	for _, e := range []float64{1, 10, 100, 1000, 4000, 8848} {
		h := r.HorizonDistance(e)
		if h <= prev {
			t.Errorf("HorizonDistance(%v) = %v, not above %v", e, h, prev)
		}
		prev = h
	}

	straight := Refraction{Radius: EarthRadius, Curvature: math.Inf(1)}
	if got, want := straight.HorizonDistance(1000), math.Sqrt(2*EarthRadius*1000); math.Abs(got-want) > 1e-6 {
		t.Errorf("straight light horizon = %v, want %v", got, want)
	}
	if straight.HorizonDistance(1000) >= r.HorizonDistance(1000) {
		t.Error("refraction should extend the horizon")
	}
}

func TestLightHeight(t *testing.T) {
	r := NewRefraction(DefaultConfig())
	const d = 100000.0

	if h := r.LightHeight(0, d); math.Abs(h) > 1e-9 {
		t.Errorf("LightHeight at observer = %v", h)
	}
	if h := r.LightHeight(d, d); math.Abs(h) > 1e-9 {
		t.Errorf("LightHeight at target = %v", h)
	}
	if a, b := r.LightHeight(20000, d), r.LightHeight(80000, d); math.Abs(a-b) > 1e-9 {
		t.Errorf("LightHeight not symmetric: %v vs %v", a, b)
	}

	mid := r.LightHeight(d/2, d)
	want := d * d / 4 / (2 * 6.4 * EarthRadius)
	if math.Abs(mid-want) > 1e-3*want {
		t.Errorf("LightHeight at midpoint = %v, want about %v", mid, want)
	}

	straight := Refraction{Radius: EarthRadius, Curvature: math.Inf(1)}
	if h := straight.LightHeight(d/2, d); h != 0 {
		t.Errorf("straight light height = %v, want 0", h)
	}
}

func TestLightAltitudePassesThroughEndpoints(t *testing.T) {
	r := NewRefraction(DefaultConfig())
	const d = 80000.0
	h1, h2 := 1500.0, 3200.0

	if got := r.LightAltitude(h1, h2, d, 0); math.Abs(got-h1) > 1e-3 {
		t.Errorf("altitude at observer = %v, want %v", got, h1)
	}
	if got := r.LightAltitude(h1, h2, d, d); math.Abs(got-h2) > 1e-3 {
		t.Errorf("altitude at target = %v, want %v", got, h2)
	}
	// Relative to the ground the light dips between the endpoints.
	if mid := r.LightAltitude(h1, h2, d, d/2); mid >= (h1+h2)/2 {
		t.Errorf("altitude at midpoint = %v, want below %v", mid, (h1+h2)/2)
	}
}

func TestObstructedFlatWorld(t *testing.T) {
	r := NewRefraction(DefaultConfig())
	const d = 10000.0
	var samples []ProfileSample
	for x := 100.0; x < d; x += 100 {
		samples = append(samples, ProfileSample{X: x})
	}
	if s, blocked := r.Obstructed(samples, d, 4000); blocked {
		t.Fatalf("flat terrain below the light path reported blocked at %+v", s)
	}
	if _, blocked := r.Obstructed(samples, d, 0); blocked {
		t.Fatal("flat terrain reported blocked with no end buffer")
	}
}

func TestObstructedSimpleObstruction(t *testing.T) {
	r := NewRefraction(DefaultConfig())
	profile, err := BuildProfile(EarthRadius, []float64{0, 25000, 50000}, []float64{0, 500, 0})
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	last := profile[len(profile)-1]
	s, blocked := r.Obstructed(profile, last.X, 4000)
	if !blocked {
		t.Fatal("expected a 500 m midpoint to block a sea-level path")
	}
	if math.Abs(s.X-25000) > 100 {
		t.Errorf("blocking sample at x=%v, want the midpoint", s.X)
	}
}

func TestObstructedIgnoresEndBuffers(t *testing.T) {
	r := NewRefraction(DefaultConfig())
	samples := []ProfileSample{
		{X: 1000, Height: 500},
		{X: 19500, Height: 500},
	}
	if _, blocked := r.Obstructed(samples, 20000, 4000); blocked {
		t.Error("samples inside the end buffers must be ignored")
	}
	if _, blocked := r.Obstructed(samples, 20000, 500); !blocked {
		t.Error("samples outside a smaller buffer must block")
	}
}

func TestContrast(t *testing.T) {
	cfg := DefaultConfig()
	r := NewRefraction(cfg)
	a := NewAtmosphere(cfg)

	clear := Atmosphere{ScatterCoefficient: 0, ScaleHeight: 8500, ShadeRatio: 1, Nodes: 16}
	if c := clear.Contrast(r, 1000, 1000, 100000); c != 1 {
		t.Errorf("contrast without scattering = %v, want 1", c)
	}

	prev := 1.0
	for _, d := range []float64{10000, 50000, 150000, 300000} {
		c := a.Contrast(r, 2000, 2000, d)
		if c <= 0 || c > 1 {
			t.Fatalf("contrast at %v m = %v, want in (0, 1]", d, c)
		}
		if c >= prev {
			t.Errorf("contrast at %v m = %v, not below %v", d, c, prev)
		}
		prev = c
	}

	uniform := Atmosphere{ScatterCoefficient: cfg.ScatterCoefficient, ScaleHeight: 1e15, ShadeRatio: 1, Nodes: 16}
	const d = 200000.0
	want := math.Exp(-cfg.ScatterCoefficient * d)
	if got := uniform.Contrast(r, 0, 0, d); math.Abs(got-want) > 1e-9 {
		t.Errorf("uniform atmosphere contrast = %v, want %v", got, want)
	}

	shaded := a
	shaded.ShadedLength = 20000
	shaded.ShadeRatio = 0.2
	if lit, dark := a.Contrast(r, 500, 500, d), shaded.Contrast(r, 500, 500, d); dark <= lit {
		t.Errorf("shaded contrast %v should exceed lit contrast %v", dark, lit)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.LightCurvature = 1
	if err := bad.Validate(); err == nil {
		t.Error("expected light curvature of 1 to be rejected")
	}
	bad = DefaultConfig()
	bad.BatchSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected zero batch size to be rejected")
	}
	straight := DefaultConfig()
	straight.LightCurvature = math.Inf(1)
	if err := straight.Validate(); err != nil {
		t.Errorf("straight light should be allowed: %v", err)
	}
}
