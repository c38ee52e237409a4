package core

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jgbreault/PinnaclePoints/model"
)

const tracerName = "github.com/jgbreault/PinnaclePoints/core"

// Stage identifies the test that decided a line-of-sight query.
type Stage int

const (
	StageSelf Stage = iota
	StageRange
	StageMidpoint
	StageCoarse
	StageFull
	StageContrast
)

func (s Stage) String() string {
	switch s {
	case StageSelf:
		return "self"
	case StageRange:
		return "range"
	case StageMidpoint:
		return "midpoint"
	case StageCoarse:
		return "coarse"
	case StageFull:
		return "full"
	case StageContrast:
		return "contrast"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Result is the outcome of a HasSight query.
type Result struct {
	Visible bool
	// Stage is the last test run: the one that failed, or the final one
	// passed.
	Stage    Stage
	Distance float64 // surface distance, metres
	Contrast float64 // 0 unless the contrast stage ran
	Samples  int     // terrain samples fetched
}

// StageObserver is notified of every stage outcome.
type StageObserver interface {
	ObserveStage(stage Stage, passed bool)
}

// Option customises an Engine.
type Option func(*Engine)

// WithStageObserver registers an observer for stage outcomes.
func WithStageObserver(o StageObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine answers line-of-sight queries between summits, running cheap tests
// first and stopping at the first failure.
type Engine struct {
	cfg        Config
	geo        Geodesic
	refraction Refraction
	atmosphere Atmosphere
	source     ElevationSource
	observer   StageObserver
	tracer     trace.Tracer
}

// NewEngine validates cfg and returns an Engine fetching terrain from source.
func NewEngine(cfg Config, source ElevationSource, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: no elevation source", ErrInvalidConfig)
	}
	e := &Engine{
		cfg:        cfg,
		geo:        NewGeodesic(cfg.EarthRadius),
		refraction: NewRefraction(cfg),
		atmosphere: NewAtmosphere(cfg),
		source:     source,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Geodesic returns the distance service used by the engine.
func (e *Engine) Geodesic() Geodesic { return e.geo }

// Distance returns the surface distance between two points.
func (e *Engine) Distance(a, b model.Point) float64 { return e.geo.Distance(a, b) }

// HorizonDistance returns the refracted horizon distance for an elevation.
func (e *Engine) HorizonDistance(elevation float64) float64 {
	return e.refraction.HorizonDistance(elevation)
}

func (e *Engine) observe(stage Stage, passed bool) {
	if e.observer != nil {
		e.observer.ObserveStage(stage, passed)
	}
}

// InRange reports whether the two points are close enough for their
// horizons to meet. The test fails closed.
func (e *Engine) InRange(observer, target model.Point, distance float64) bool {
	return e.refraction.HorizonDistance(observer.Elevation)+e.refraction.HorizonDistance(target.Elevation) > distance
}

// HasSight reports whether observer and target can see each other. Any
// error means the answer is unknown.
func (e *Engine) HasSight(ctx context.Context, observer, target model.Summit) (Result, error) {
	if observer.SameLocation(target.Point) {
		e.observe(StageSelf, true)
		return Result{Visible: true, Stage: StageSelf}, nil
	}

	d := e.geo.Distance(observer.Point, target.Point)
	res := Result{Distance: d, Stage: StageRange}
	inRange := e.InRange(observer.Point, target.Point, d)
	e.observe(StageRange, inRange)
	if !inRange {
		return res, nil
	}

	frame, err := NewFrame(e.cfg.EarthRadius, d, observer.Elevation, target.Elevation)
	if err != nil {
		return res, err
	}

	ctx, span := e.tracer.Start(ctx, "core.HasSight",
		trace.WithAttributes(
			attribute.Int64("observer.id", observer.ID),
			attribute.Int64("target.id", target.ID),
			attribute.Float64("distance_m", d),
		))
	defer span.End()

	stages := []struct {
		stage Stage
		n     int
	}{
		{StageMidpoint, 1},
		{StageCoarse, e.cfg.CoarseSamples},
		{StageFull, e.fullSampleCount(d)},
	}
	for _, st := range stages {
		if st.n <= 0 {
			continue
		}
		res.Stage = st.stage
		clear, fetched, err := e.clearAt(ctx, observer.Point, target.Point, frame, d, st.n)
		res.Samples += fetched
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		e.observe(st.stage, clear)
		if !clear {
			span.SetAttributes(attribute.String("decided_by", st.stage.String()))
			return res, nil
		}
	}

	res.Visible = true
	if e.cfg.CheckContrast {
		res.Stage = StageContrast
		res.Contrast = e.atmosphere.Contrast(e.refraction, observer.Elevation, target.Elevation, d)
		res.Visible = res.Contrast > e.cfg.ContrastThreshold
		e.observe(StageContrast, res.Visible)
	}
	span.SetAttributes(attribute.Bool("visible", res.Visible), attribute.String("decided_by", res.Stage.String()))
	return res, nil
}

// MidpointClear runs only the single-sample test.
func (e *Engine) MidpointClear(ctx context.Context, observer, target model.Point) (bool, error) {
	return e.clearWith(ctx, observer, target, 1)
}

// CoarseClear runs only the coarse test.
func (e *Engine) CoarseClear(ctx context.Context, observer, target model.Point) (bool, error) {
	return e.clearWith(ctx, observer, target, e.cfg.CoarseSamples)
}

// FullClear runs only the full-resolution test.
func (e *Engine) FullClear(ctx context.Context, observer, target model.Point) (bool, error) {
	return e.clearWith(ctx, observer, target, e.fullSampleCount(e.geo.Distance(observer, target)))
}

func (e *Engine) clearWith(ctx context.Context, observer, target model.Point, n int) (bool, error) {
	if observer.SameLocation(target) {
		return true, nil
	}
	d := e.geo.Distance(observer, target)
	frame, err := NewFrame(e.cfg.EarthRadius, d, observer.Elevation, target.Elevation)
	if err != nil {
		return false, err
	}
	clear, _, err := e.clearAt(ctx, observer, target, frame, d, n)
	return clear, err
}

// fullSampleCount is the number of interior samples that keeps neighbours
// no more than SampleSpacing apart.
func (e *Engine) fullSampleCount(d float64) int {
	n := int(math.Ceil(d/e.cfg.SampleSpacing)) - 1
	if n < 1 {
		return 1
	}
	return n
}

// clearAt samples n interior points and tests them against the light path.
// Samples are fetched in batches from the middle of the path outward, where
// obstructions are most likely, and the test stops at the first blocked
// batch.
func (e *Engine) clearAt(ctx context.Context, observer, target model.Point, frame Frame, d float64, n int) (bool, int, error) {
	length := frame.StraightLength()
	order := middleOut(n)
	fetched := 0
	for start := 0; start < len(order); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(order))
		idx := order[start:end]

		points := make([]model.Point, len(idx))
		surface := make([]float64, len(idx))
		for i, k := range idx {
			f := float64(k+1) / float64(n+1)
			p, err := e.geo.Interpolate(observer, target, f)
			if err != nil {
				return false, fetched, err
			}
			points[i] = p
			surface[i] = f * d
		}

		elevations, err := e.source.Elevations(ctx, points)
		if err != nil {
			return false, fetched, fmt.Errorf("%w: %w", ErrElevationUnavailable, err)
		}
		if len(elevations) != len(points) {
			return false, fetched, fmt.Errorf("%w: asked for %d elevations, got %d",
				ErrElevationUnavailable, len(points), len(elevations))
		}
		fetched += len(points)

		samples := make([]ProfileSample, len(points))
		for i := range points {
			samples[i] = frame.Project(surface[i], elevations[i])
		}
		if _, blocked := e.refraction.Obstructed(samples, length, e.cfg.EndBuffer); blocked {
			return false, fetched, nil
		}
	}
	return true, fetched, nil
}

// middleOut returns 0..n-1 ordered by distance from the middle.
func middleOut(n int) []int {
	order := make([]int, 0, n)
	lo := (n - 1) / 2
	hi := lo + 1
	for lo >= 0 || hi < n {
		if lo >= 0 {
			order = append(order, lo)
			lo--
		}
		if hi < n {
			order = append(order, hi)
			hi++
		}
	}
	return order
}

// Trace samples the full path between two summits at full resolution.
func (e *Engine) Trace(ctx context.Context, observer, target model.Summit) (*LineOfSight, error) {
	if observer.SameLocation(target.Point) {
		return nil, fmt.Errorf("%w: observer and target coincide", ErrDegenerateGeometry)
	}
	d := e.geo.Distance(observer.Point, target.Point)
	frame, err := NewFrame(e.cfg.EarthRadius, d, observer.Elevation, target.Elevation)
	if err != nil {
		return nil, err
	}
	n := e.fullSampleCount(d)
	interior, err := e.geo.Sample(observer.Point, target.Point, n)
	if err != nil {
		return nil, err
	}

	elevations := make([]float64, 0, n)
	for start := 0; start < n; start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, n)
		batch, err := e.source.Elevations(ctx, interior[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrElevationUnavailable, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: asked for %d elevations, got %d",
				ErrElevationUnavailable, end-start, len(batch))
		}
		elevations = append(elevations, batch...)
	}

	length := frame.StraightLength()
	los := &LineOfSight{
		Observer:         observer,
		Target:           target,
		SurfaceDistance:  d,
		StraightDistance: length,
		LightCurvature:   e.cfg.LightCurvature,
		EndBuffer:        e.cfg.EndBuffer,
		Points:           make([]LosPoint, 0, n+2),
		refraction:       e.refraction,
		atmosphere:       e.atmosphere,
	}
	add := func(p model.Point, surface float64) {
		s := frame.Project(surface, p.Elevation)
		los.Points = append(los.Points, LosPoint{
			Point:            p,
			SurfaceDistance:  surface,
			StraightDistance: s.X,
			GroundHeight:     s.Height,
			LightHeight:      e.refraction.LightHeight(s.X, length),
		})
	}
	add(observer.Point, 0)
	for i, p := range interior {
		p.Elevation = elevations[i]
		add(p, float64(i+1)/float64(n+1)*d)
	}
	add(target.Point, d)
	return los, nil
}
