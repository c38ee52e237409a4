package search

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/checkpoint"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/patch"
)

type terrain func(p model.Point) float64

func (t terrain) Elevations(_ context.Context, points []model.Point) ([]float64, error) {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = t(p)
	}
	return out, nil
}

var errUnreachable = errors.New("terrain unreachable")

// fakeEngine decides visibility from the summit ids alone.
type fakeEngine struct {
	geo     core.Geodesic
	horizon func(float64) float64
	visible func(a, b int64) bool
	failFor int64
	calls   atomic.Int64
}

func newFakeEngine(visible func(a, b int64) bool) *fakeEngine {
	return &fakeEngine{
		geo:     core.NewGeodesic(core.EarthRadius),
		horizon: core.NewRefraction(core.DefaultConfig()).HorizonDistance,
		visible: visible,
	}
}

func (f *fakeEngine) HasSight(ctx context.Context, observer, target model.Summit) (core.Result, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return core.Result{}, err
	}
	if f.failFor != 0 && target.ID == f.failFor {
		return core.Result{}, errUnreachable
	}
	return core.Result{Visible: f.visible(observer.ID, target.ID), Stage: core.StageFull}, nil
}

func (f *fakeEngine) HorizonDistance(elevation float64) float64 { return f.horizon(elevation) }

func (f *fakeEngine) Distance(a, b model.Point) float64 { return f.geo.Distance(a, b) }

func (f *fakeEngine) inRange(a, b model.Summit) bool {
	return f.Distance(a.Point, b.Point) < f.horizon(a.Elevation)+f.horizon(b.Elevation)
}

// hashedVisibility is symmetric and deterministic.
func hashedVisibility(a, b int64) bool {
	if a > b {
		a, b = b, a
	}
	return (a*7919+b*104729)%5 < 2
}

type memJournal struct {
	mu       sync.Mutex
	records  []model.Verdict
	compacts int
}

func (m *memJournal) Record(v model.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, v)
	return nil
}

func (m *memJournal) Compact(remaining, found []model.Summit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compacts++
	return nil
}

// crashJournal records but never compacts, as if the process died before
// its snapshot was written.
type crashJournal struct{ *checkpoint.Journal }

func (c crashJournal) Compact([]model.Summit, []model.Summit) error { return nil }

func summit(id int64, lat, lng, elevation float64) model.Summit {
	return model.Summit{ID: id, Point: model.Point{Lat: lat, Lng: lng, Elevation: elevation}}
}

func cluster(n int) []model.Summit {
	rng := rand.New(rand.NewPCG(7, 11))
	out := make([]model.Summit, 0, n)
	for i := range n {
		out = append(out, summit(int64(i+1),
			15+rng.Float64()*0.6-0.3,
			15+rng.Float64()*0.6-0.3,
			100+float64(i)*37+rng.Float64()*10,
		))
	}
	return out
}

func buildIndex(t *testing.T, horizon func(float64) float64, summits []model.Summit) *patch.Index {
	t.Helper()
	g, err := patch.NewGrid(10)
	require.NoError(t, err)
	b := &patch.Builder{Grid: g, Horizon: horizon, Radius: core.EarthRadius, Workers: 2}
	patches, err := b.Build(context.Background(), summits)
	require.NoError(t, err)
	ix := patch.NewIndex(g, nil)
	for _, p := range patches {
		require.NoError(t, ix.Add(p))
	}
	return ix
}

// expectedPinnacles classifies by brute force over every pair.
func expectedPinnacles(f *fakeEngine, summits []model.Summit) []int64 {
	var ids []int64
	for _, c := range summits {
		pinnacle := true
		for _, o := range summits {
			if o.ID == c.ID || !(o.Elevation > c.Elevation) || !f.inRange(o, c) {
				continue
			}
			if f.visible(o.ID, c.ID) {
				pinnacle = false
				break
			}
		}
		if pinnacle {
			ids = append(ids, c.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func ids(summits []model.Summit) []int64 {
	out := make([]int64, 0, len(summits))
	for _, s := range summits {
		out = append(out, s.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestClassifyScenario(t *testing.T) {
	const deg10km = 0.08993
	ridge := terrain(func(p model.Point) float64 {
		if math.Abs(p.Lat-deg10km/2) < 0.005 && math.Abs(p.Lng) < 0.005 {
			return 1400
		}
		return 0
	})
	engine, err := core.NewEngine(core.DefaultConfig(), ridge)
	require.NoError(t, err)

	a := summit(1, 0, 0, 1000)
	b := summit(2, 0, deg10km, 2000)
	c := summit(3, deg10km, 0, 1500)
	all := []model.Summit{a, b, c}
	s := New(engine, buildIndex(t, engine.HorizonDistance, all), Config{Workers: 2})
	ctx := context.Background()

	v, err := s.Classify(ctx, a)
	require.NoError(t, err)
	require.False(t, v.Pinnacle)
	require.Equal(t, b.ID, v.DisqualifiedBy)

	v, err = s.Classify(ctx, b)
	require.NoError(t, err)
	require.True(t, v.Pinnacle)
	require.Zero(t, v.Tested)

	v, err = s.Classify(ctx, c)
	require.NoError(t, err)
	require.False(t, v.Pinnacle)
	require.Equal(t, b.ID, v.DisqualifiedBy)

	res, err := engine.HasSight(ctx, c, a)
	require.NoError(t, err)
	require.False(t, res.Visible, "ridge should hide A from C")
}

func TestClassifyEqualElevationDoesNotDisqualify(t *testing.T) {
	f := newFakeEngine(func(a, b int64) bool { return true })
	pair := []model.Summit{summit(1, 15, 15, 1000), summit(2, 15.05, 15, 1000)}
	s := New(f, buildIndex(t, f.horizon, pair), Config{Workers: 1})

	for _, c := range pair {
		v, err := s.Classify(context.Background(), c)
		require.NoError(t, err)
		require.True(t, v.Pinnacle, "summit %d", c.ID)
	}
	require.Zero(t, f.calls.Load())
}

func TestClassifyIsolationSlack(t *testing.T) {
	f := newFakeEngine(func(a, b int64) bool { return true })
	low := summit(1, 15, 15, 1000)
	high := summit(2, 15.05, 15, 2000)
	d := f.Distance(low.Point, high.Point)
	low.Isolation = model.Float(d * 1.02)
	pair := []model.Summit{low, high}
	ix := buildIndex(t, f.horizon, pair)

	v, err := New(f, ix, Config{Workers: 1, IsolationSlack: 0.99}).Classify(context.Background(), low)
	require.NoError(t, err)
	require.True(t, v.Pinnacle)

	v, err = New(f, ix, Config{Workers: 1}).Classify(context.Background(), low)
	require.NoError(t, err)
	require.False(t, v.Pinnacle)
	require.Equal(t, high.ID, v.DisqualifiedBy)
}

func TestRunMatchesBruteForce(t *testing.T) {
	summits := cluster(60)
	for _, dominated := range []bool{false, true} {
		f := newFakeEngine(hashedVisibility)
		ix := buildIndex(t, f.horizon, summits)
		j := &memJournal{}
		s := New(f, ix, Config{Workers: 4, EliminateDominated: dominated, CompactEvery: 7})

		out, err := s.Run(context.Background(), summits, nil, j)
		require.NoError(t, err)
		require.Equal(t, expectedPinnacles(f, summits), ids(out.Found), "dominated=%v", dominated)
		require.Empty(t, out.Remaining)
		require.Len(t, j.records, len(summits))
		require.Equal(t, len(summits), out.Classified+out.Dominated)

		seen := make(map[int64]bool)
		for _, v := range j.records {
			require.False(t, seen[v.SummitID], "verdict for %d recorded twice", v.SummitID)
			seen[v.SummitID] = true
		}
		require.GreaterOrEqual(t, j.compacts, 2)
		if !dominated {
			require.Zero(t, out.Dominated)
		}
	}
}

func TestRunResumesAfterCrash(t *testing.T) {
	summits := cluster(50)
	f := newFakeEngine(hashedVisibility)
	ix := buildIndex(t, f.horizon, summits)
	want := expectedPinnacles(f, summits)
	ctx := context.Background()
	dir := t.TempDir()

	j, state, err := checkpoint.Open(ctx, dir, summits, nil)
	require.NoError(t, err)
	cfg := Config{Workers: 3, Limit: 12}
	first, err := New(f, ix, cfg).Run(ctx, state.Remaining, state.Found, crashJournal{j})
	require.NoError(t, err)
	require.Len(t, first.Remaining, len(summits)-12)
	require.NoError(t, j.Close())

	j, state, err = checkpoint.Open(ctx, dir, summits, nil)
	require.NoError(t, err)
	require.Len(t, state.Remaining, len(first.Remaining))
	cfg.Limit = 0
	cfg.EliminateDominated = true
	second, err := New(f, ix, cfg).Run(ctx, state.Remaining, state.Found, j)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.Empty(t, second.Remaining)
	require.Equal(t, want, ids(second.Found))

	// A further resume has nothing left to do.
	j, state, err = checkpoint.Open(ctx, dir, summits, nil)
	require.NoError(t, err)
	defer j.Close()
	require.Empty(t, state.Remaining)
	require.Equal(t, want, ids(state.Found))
}

func TestRunDefersFailedCandidates(t *testing.T) {
	summits := cluster(20)
	f := newFakeEngine(func(a, b int64) bool { return false })
	// Everything is invisible, so every summit would be a pinnacle.
	f.failFor = 5
	ix := buildIndex(t, f.horizon, summits)

	out, err := New(f, ix, Config{Workers: 2}).Run(context.Background(), summits, nil, &memJournal{})
	require.NoError(t, err)
	require.Equal(t, 1, out.Failed)
	require.Len(t, out.Remaining, 1)
	require.Equal(t, int64(5), out.Remaining[0].ID)
	require.NotContains(t, ids(out.Found), int64(5))
	require.Len(t, out.Found, len(summits)-1)
}

func TestRunCancelled(t *testing.T) {
	summits := cluster(30)
	f := newFakeEngine(hashedVisibility)
	ix := buildIndex(t, f.horizon, summits)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &memJournal{}
	out, err := New(f, ix, Config{Workers: 2}).Run(ctx, summits, nil, j)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, len(summits)-len(j.records), len(out.Remaining))
}

func TestSurveyFindsLongestLines(t *testing.T) {
	summits := cluster(40)
	f := newFakeEngine(hashedVisibility)
	ix := buildIndex(t, f.horizon, summits)
	const minDistance = 5000

	lines, err := New(f, ix, Config{Workers: 3}).Survey(context.Background(), summits, SurveyOptions{MinDistance: minDistance})
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	for i := 1; i < len(lines); i++ {
		require.GreaterOrEqual(t, lines[i-1].Distance, lines[i].Distance)
	}
	for _, l := range lines {
		best := 0.0
		for _, t2 := range summits {
			d := f.Distance(l.Observer.Point, t2.Point)
			if t2.ID == l.Observer.ID || !l.Observer.HigherThan(t2) || d <= minDistance || !f.inRange(l.Observer, t2) {
				continue
			}
			if f.visible(l.Observer.ID, t2.ID) && d > best {
				best = d
			}
		}
		require.InDelta(t, best, l.Distance, 1e-6, "observer %d", l.Observer.ID)
		require.True(t, l.Observer.HigherThan(l.Target))
	}
}
