// Package search classifies summits as pinnacle points: summits that no
// higher summit in mutual horizon range can see.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/patch"
)

const tracerName = "github.com/jgbreault/PinnaclePoints/search"

// Engine answers line-of-sight queries. *core.Engine satisfies it.
type Engine interface {
	HasSight(ctx context.Context, observer, target model.Summit) (core.Result, error)
	HorizonDistance(elevation float64) float64
	Distance(a, b model.Point) float64
}

// PatchLookup finds the patch responsible for a location. *patch.Index
// satisfies it.
type PatchLookup interface {
	Lookup(lat, lng float64) (*patch.Patch, error)
}

// Metrics receives search progress. *observability.SearchCollector
// satisfies it.
type Metrics interface {
	ObserveVerdict(v model.Verdict, elapsed time.Duration)
	CandidateFailed()
	SetProgress(remaining, found int)
}

// Config tunes a search run.
type Config struct {
	Workers int
	// EliminateDominated runs an extra pass after each candidate that marks
	// lower undecided summits it can see as non-pinnacles.
	EliminateDominated bool
	// IsolationSlack skips higher summits closer than the candidate's
	// isolation times this factor. 0 disables the filter.
	IsolationSlack float64
	// CompactEvery and CompactInterval control how often the checkpoint is
	// compacted; either may be zero.
	CompactEvery    int
	CompactInterval time.Duration
	// Limit caps the number of candidates dispatched in one run; 0 means no
	// limit.
	Limit int
}

// DefaultConfig returns the settings used for full-catalogue runs.
func DefaultConfig() Config {
	return Config{
		Workers:            8,
		EliminateDominated: true,
		IsolationSlack:     0.99,
		CompactEvery:       100,
		CompactInterval:    time.Minute,
	}
}

// Option customises a Searcher.
type Option func(*Searcher)

// WithLogger sets the searcher's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Searcher) { s.log = l }
}

// WithMetrics sets the searcher's metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// Searcher classifies candidates against the summits in their patch.
type Searcher struct {
	engine  Engine
	index   PatchLookup
	cfg     Config
	log     logging.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// New returns a Searcher.
func New(engine Engine, index PatchLookup, cfg Config, opts ...Option) *Searcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	s := &Searcher{
		engine: engine,
		index:  index,
		cfg:    cfg,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type neighbour struct {
	summit   model.Summit
	distance float64
}

// canDisqualify reports whether higher must be tested against lower at
// distance d: it is strictly higher, within mutual horizon range, and not
// inside lower's recorded isolation.
func (s *Searcher) canDisqualify(higher, lower model.Summit, d float64) bool {
	if higher.ID == lower.ID || !(higher.Elevation > lower.Elevation) {
		return false
	}
	if d >= s.engine.HorizonDistance(higher.Elevation)+s.engine.HorizonDistance(lower.Elevation) {
		return false
	}
	if s.cfg.IsolationSlack > 0 && lower.Isolation != nil && d <= *lower.Isolation*s.cfg.IsolationSlack {
		return false
	}
	return true
}

func sortByDistance(ns []neighbour) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].distance != ns[j].distance {
			return ns[i].distance < ns[j].distance
		}
		return ns[i].summit.ID < ns[j].summit.ID
	})
}

// Classify decides whether c is a pinnacle point. Higher summits are tested
// nearest first and the first one with sight of c disqualifies it. An error
// means no verdict was reached.
func (s *Searcher) Classify(ctx context.Context, c model.Summit) (model.Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "search.Classify",
		trace.WithAttributes(attribute.Int64("summit.id", c.ID)))
	defer span.End()

	v := model.Verdict{SummitID: c.ID}
	p, err := s.index.Lookup(c.Lat, c.Lng)
	if err != nil {
		span.RecordError(err)
		return v, fmt.Errorf("summit %d: %w", c.ID, err)
	}

	var higher []neighbour
	for _, o := range p.Summits {
		d := s.engine.Distance(c.Point, o.Point)
		if s.canDisqualify(o, c, d) {
			higher = append(higher, neighbour{summit: o, distance: d})
		}
	}
	sortByDistance(higher)

	for i, h := range higher {
		res, err := s.engine.HasSight(ctx, h.summit, c)
		if err != nil {
			span.RecordError(err)
			return v, fmt.Errorf("summit %d seen from %d: %w", c.ID, h.summit.ID, err)
		}
		if res.Visible {
			v.DisqualifiedBy = h.summit.ID
			v.Tested = i + 1
			span.SetAttributes(attribute.Bool("pinnacle", false), attribute.Int64("disqualified_by", h.summit.ID))
			return v, nil
		}
	}
	v.Pinnacle = true
	v.Tested = len(higher)
	span.SetAttributes(attribute.Bool("pinnacle", true), attribute.Int("tested", v.Tested))
	return v, nil
}

// Dominated returns the ids of lower summits near top, for which undecided
// returns true, that top can see. Pairs whose test fails are left for the
// summits' own classification.
func (s *Searcher) Dominated(ctx context.Context, top model.Summit, undecided func(id int64) bool) ([]int64, error) {
	p, err := s.index.Lookup(top.Lat, top.Lng)
	if err != nil {
		return nil, fmt.Errorf("summit %d: %w", top.ID, err)
	}
	var lower []neighbour
	for _, o := range p.Summits {
		if !undecided(o.ID) {
			continue
		}
		d := s.engine.Distance(top.Point, o.Point)
		if s.canDisqualify(top, o, d) {
			lower = append(lower, neighbour{summit: o, distance: d})
		}
	}
	sortByDistance(lower)

	var ids []int64
	for _, l := range lower {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		if !undecided(l.summit.ID) {
			continue
		}
		res, err := s.engine.HasSight(ctx, top, l.summit)
		if err != nil {
			s.log.Debug(ctx, "dominance test failed",
				logging.SummitID(l.summit.ID),
				logging.Int64("top_id", top.ID),
				logging.Err(err),
			)
			continue
		}
		if res.Visible {
			ids = append(ids, l.summit.ID)
		}
	}
	return ids, nil
}
