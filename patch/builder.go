package patch

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

// Patch is the set of summits that may matter to candidates inside its inner
// bounds.
type Patch struct {
	Key   Key
	Size  int
	Inner Bounds
	Outer Bounds

	// LatOffset and LngOffset are the degrees the inner bounds were grown
	// by. LngOffset is +Inf when the outer set spans all longitudes.
	LatOffset      float64
	LngOffset      float64
	OffsetDistance float64 // metres

	// LightCurvature and Radius are the model the offsets were sized with.
	LightCurvature float64
	Radius         float64

	GlobalCount int
	InnerCount  int

	// Summits is the outer set, inner summits included, highest first.
	Summits []model.Summit
}

// InnerSummits returns the summits the patch is responsible for.
func (p *Patch) InnerSummits() []model.Summit {
	var out []model.Summit
	for _, s := range p.Summits {
		if p.Inner.Contains(s.Lat, s.Lng) {
			out = append(out, s)
		}
	}
	return out
}

// Builder partitions a catalogue into patches.
type Builder struct {
	Grid Grid
	// Horizon returns the refracted horizon distance for an elevation.
	Horizon func(elevation float64) float64
	// LightCurvature is recorded on each patch; it must be the coefficient
	// Horizon was built from.
	LightCurvature float64
	Radius         float64
	Workers        int
	Log            logging.Logger
}

// Build returns one patch per grid cell that holds at least one summit, in
// Grid.Keys order.
func (b *Builder) Build(ctx context.Context, summits []model.Summit) ([]*Patch, error) {
	log := b.Log
	if log == nil {
		log = logging.Noop()
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	globalMax := math.Inf(-1)
	for _, s := range summits {
		globalMax = math.Max(globalMax, s.Elevation)
	}
	globalReach := b.Horizon(globalMax)

	keys := b.Grid.Keys()
	results := make([]*Patch, len(keys))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = b.buildOne(keys[i], summits, globalReach)
			}
		}()
	}

	var err error
dispatch:
	for i := range keys {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	patches := make([]*Patch, 0, len(keys))
	for _, p := range results {
		if p == nil {
			continue
		}
		patches = append(patches, p)
		log.Debug(ctx, "patch built",
			logging.String("patch", p.Key.String()),
			logging.Int("inner", p.InnerCount),
			logging.Int("outer", len(p.Summits)),
			logging.Float64("offset_m", p.OffsetDistance),
		)
	}
	log.Info(ctx, "patches built",
		logging.Int("patches", len(patches)),
		logging.Int("summits", len(summits)),
	)
	return patches, nil
}

func (b *Builder) buildOne(key Key, summits []model.Summit, globalReach float64) *Patch {
	inner := b.Grid.InnerBounds(key)

	innerMax := math.Inf(-1)
	innerCount := 0
	for _, s := range summits {
		if inner.Contains(s.Lat, s.Lng) {
			innerCount++
			innerMax = math.Max(innerMax, s.Elevation)
		}
	}
	if innerCount == 0 {
		return nil
	}
	innerReach := b.Horizon(innerMax)

	// A first pass bounded by the highest summit on Earth finds every
	// possible neighbour; the highest of those gives a tighter bound.
	loose, _, _ := inner.Expand(globalReach+innerReach, b.Radius)
	neighbourMax := math.Inf(-1)
	for _, s := range summits {
		if loose.Contains(s.Lat, s.Lng) && !inner.Contains(s.Lat, s.Lng) {
			neighbourMax = math.Max(neighbourMax, s.Elevation)
		}
	}
	offset := innerReach
	if !math.IsInf(neighbourMax, -1) {
		offset += b.Horizon(neighbourMax)
	}

	outer, latOff, lngOff := inner.Expand(offset, b.Radius)
	p := &Patch{
		Key:            key,
		Size:           b.Grid.Size(),
		Inner:          inner,
		Outer:          outer,
		LatOffset:      latOff,
		LngOffset:      lngOff,
		OffsetDistance: offset,
		LightCurvature: b.LightCurvature,
		Radius:         b.Radius,
		GlobalCount:    len(summits),
		InnerCount:     innerCount,
	}
	for _, s := range summits {
		if outer.Contains(s.Lat, s.Lng) {
			p.Summits = append(p.Summits, s)
		}
	}
	model.SortByElevation(p.Summits)
	return p
}
