package observability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/model"
)

// Verdict label values.
const (
	VerdictPinnacle    = "pinnacle"
	VerdictNotPinnacle = "not_pinnacle"
	VerdictDominated   = "dominated"
	VerdictFailed      = "failed"
)

// SearchCollector bundles Prometheus metrics for a pinnacle search: verdicts,
// LOS stage outcomes, elevation service traffic and progress.
type SearchCollector struct {
	gatherer prometheus.Gatherer

	Candidates        *prometheus.CounterVec
	CandidateDuration *prometheus.HistogramVec
	LOSStages         *prometheus.CounterVec
	ElevationRequests *prometheus.CounterVec
	ElevationRetries  prometheus.Counter
	PatchesLoaded     prometheus.Counter

	Remaining prometheus.Gauge
	Found     prometheus.Gauge
}

// NewSearchCollector registers search metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSearchCollector(reg prometheus.Registerer) (*SearchCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	candidates, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinnacle_candidates_total",
		Help: "Candidates classified, labeled by verdict.",
	}, []string{"verdict"}), "pinnacle_candidates_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pinnacle_candidate_duration_seconds",
		Help:    "Time to classify one candidate, labeled by verdict.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"verdict"}), "pinnacle_candidate_duration_seconds")
	if err != nil {
		return nil, err
	}

	stages, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinnacle_los_stage_total",
		Help: "LOS stage outcomes, labeled by stage and result.",
	}, []string{"stage", "result"}), "pinnacle_los_stage_total")
	if err != nil {
		return nil, err
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pinnacle_elevation_requests_total",
		Help: "Elevation service requests, labeled by HTTP status code (0 for transport errors).",
	}, []string{"code"}), "pinnacle_elevation_requests_total")
	if err != nil {
		return nil, err
	}

	retries, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pinnacle_elevation_retries_total",
		Help: "Elevation requests retried after a transient failure.",
	}), "pinnacle_elevation_retries_total")
	if err != nil {
		return nil, err
	}

	patches, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pinnacle_patches_loaded_total",
		Help: "Patches loaded into the spatial index.",
	}), "pinnacle_patches_loaded_total")
	if err != nil {
		return nil, err
	}

	remaining, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pinnacle_candidates_remaining",
		Help: "Candidates without a committed verdict.",
	}), "pinnacle_candidates_remaining")
	if err != nil {
		return nil, err
	}
	found, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pinnacle_points_found",
		Help: "Pinnacle points found so far.",
	}), "pinnacle_points_found")
	if err != nil {
		return nil, err
	}

	return &SearchCollector{
		gatherer:          gatherer,
		Candidates:        candidates,
		CandidateDuration: durations,
		LOSStages:         stages,
		ElevationRequests: requests,
		ElevationRetries:  retries,
		PatchesLoaded:     patches,
		Remaining:         remaining,
		Found:             found,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SearchCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveVerdict records a committed verdict and how long it took.
func (c *SearchCollector) ObserveVerdict(v model.Verdict, d time.Duration) {
	if c == nil {
		return
	}
	label := VerdictNotPinnacle
	switch {
	case v.Pinnacle:
		label = VerdictPinnacle
	case v.Dominated:
		label = VerdictDominated
	}
	c.Candidates.WithLabelValues(label).Inc()
	if !v.Dominated {
		c.CandidateDuration.WithLabelValues(label).Observe(d.Seconds())
	}
}

// CandidateFailed records a candidate deferred because of an error.
func (c *SearchCollector) CandidateFailed() {
	if c == nil {
		return
	}
	c.Candidates.WithLabelValues(VerdictFailed).Inc()
}

// SetProgress updates the progress gauges.
func (c *SearchCollector) SetProgress(remaining, found int) {
	if c == nil {
		return
	}
	c.Remaining.Set(float64(remaining))
	c.Found.Set(float64(found))
}

// ObserveStage satisfies core.StageObserver.
func (c *SearchCollector) ObserveStage(stage core.Stage, passed bool) {
	if c == nil {
		return
	}
	result := "blocked"
	if passed {
		result = "passed"
	}
	c.LOSStages.WithLabelValues(stage.String(), result).Inc()
}

// ObserveElevationRequest records one elevation service response.
func (c *SearchCollector) ObserveElevationRequest(code int) {
	if c == nil {
		return
	}
	c.ElevationRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveElevationRetry records a retried elevation request.
func (c *SearchCollector) ObserveElevationRetry() {
	if c == nil {
		return
	}
	c.ElevationRetries.Inc()
}

// PatchLoaded records a patch entering the index.
func (c *SearchCollector) PatchLoaded() {
	if c == nil {
		return
	}
	c.PatchesLoaded.Inc()
}

// register adds c to reg, reusing a compatible collector that is already
// registered under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		return c, fmt.Errorf("metric %s: registered with a different type", name)
	}
	return c, fmt.Errorf("metric %s: %w", name, err)
}
