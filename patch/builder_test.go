package patch

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/model"
)

func syntheticSummits() []model.Summit {
	rng := rand.New(rand.NewPCG(42, 1))
	var out []model.Summit
	id := int64(1)
	add := func(lat, lng, elev float64) {
		s := model.Summit{ID: id, Point: model.Point{Lat: lat, Lng: core.NormalizeLng(lng), Elevation: elev}}
		if s.Lat > 90 {
			s.Lat = 90
		}
		if s.Lat < -90 {
			s.Lat = -90
		}
		out = append(out, s)
		id++
	}
	hotspots := [][2]float64{{80, 180}, {-80, 0}, {0, 0}, {45, -180}, {10, 95}, {88, -40}}
	for _, h := range hotspots {
		for range 60 {
			add(h[0]+rng.Float64()*6-3, h[1]+rng.Float64()*6-3, rng.Float64()*5000)
		}
	}
	for range 120 {
		add(rng.Float64()*180-90, rng.Float64()*360-180, rng.Float64()*3000)
	}

	// Pairs straddling the antimeridian and the cap boundary.
	add(65, 179.99, 4000)
	add(65, -179.99, 4000)
	add(79.99, 10, 3000)
	add(80.01, 10, 3000)
	add(-79.99, -100, 3000)
	add(-80.01, -100, 3000)
	add(0.001, 0.001, 8000)
	add(-0.001, -0.001, 10)
	return out
}

func buildTestPatches(t *testing.T, size int, summits []model.Summit) (Grid, []*Patch, func(float64) float64) {
	t.Helper()
	g, err := NewGrid(size)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	cfg := core.DefaultConfig()
	horizon := core.NewRefraction(cfg).HorizonDistance
	b := &Builder{Grid: g, Horizon: horizon, LightCurvature: cfg.LightCurvature, Radius: core.EarthRadius, Workers: 4}
	patches, err := b.Build(context.Background(), summits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g, patches, horizon
}

func TestBuildCoversEveryPairInRange(t *testing.T) {
	summits := syntheticSummits()
	geo := core.NewGeodesic(core.EarthRadius)

	for _, size := range []int{10, 18, 45} {
		g, patches, horizon := buildTestPatches(t, size, summits)
		byKey := make(map[Key]map[int64]bool, len(patches))
		for _, p := range patches {
			ids := make(map[int64]bool, len(p.Summits))
			for _, s := range p.Summits {
				ids[s.ID] = true
			}
			byKey[p.Key] = ids
		}

		pairs := 0
		for _, a := range summits {
			outer, ok := byKey[g.KeyFor(a.Lat, a.Lng)]
			if !ok {
				t.Fatalf("size %d: no patch for summit %d", size, a.ID)
			}
			for _, b := range summits {
				if a.ID == b.ID {
					continue
				}
				if geo.Distance(a.Point, b.Point) >= horizon(a.Elevation)+horizon(b.Elevation) {
					continue
				}
				pairs++
				if !outer[b.ID] {
					t.Errorf("size %d: summit %d in range of %d but missing from patch %v",
						size, b.ID, a.ID, g.KeyFor(a.Lat, a.Lng))
				}
			}
		}
		if pairs == 0 {
			t.Fatalf("size %d: synthetic data produced no pairs in range", size)
		}
	}
}

func TestBuildInnerCounts(t *testing.T) {
	summits := syntheticSummits()
	_, patches, _ := buildTestPatches(t, 15, summits)

	total := 0
	for _, p := range patches {
		inner := p.InnerSummits()
		if len(inner) != p.InnerCount {
			t.Errorf("patch %v: %d inner summits, header says %d", p.Key, len(inner), p.InnerCount)
		}
		if p.GlobalCount != len(summits) {
			t.Errorf("patch %v: global count %d, want %d", p.Key, p.GlobalCount, len(summits))
		}
		for i := 1; i < len(p.Summits); i++ {
			if p.Summits[i].HigherThan(p.Summits[i-1]) {
				t.Errorf("patch %v: summits not sorted at %d", p.Key, i)
				break
			}
		}
		total += p.InnerCount
	}
	if total != len(summits) {
		t.Errorf("inner sets hold %d summits, want %d", total, len(summits))
	}
}

func TestBuildHonoursCancellation(t *testing.T) {
	g, _ := NewGrid(10)
	b := &Builder{Grid: g, Horizon: core.NewRefraction(core.DefaultConfig()).HorizonDistance, Radius: core.EarthRadius}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Build(ctx, syntheticSummits()); err == nil {
		t.Fatal("expected cancelled build to fail")
	}
}
