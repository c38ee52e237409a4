// Package config loads the layered run configuration: built-in defaults,
// then an optional YAML file, then PINNACLE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/clients/elevation"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/internal/observability"
	"github.com/jgbreault/PinnaclePoints/patch"
	"github.com/jgbreault/PinnaclePoints/search"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections, so PINNACLE_SEARCH__WORKERS sets search.workers.
const EnvPrefix = "PINNACLE_"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config is the complete configuration of a run.
type Config struct {
	Earth     EarthConfig     `koanf:"earth"`
	LOS       LOSConfig       `koanf:"los"`
	Patch     PatchConfig     `koanf:"patch"`
	Search    SearchConfig    `koanf:"search"`
	Survey    SurveyConfig    `koanf:"survey"`
	Elevation ElevationConfig `koanf:"elevation"`
	Logging   LoggingConfig   `koanf:"logging"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type EarthConfig struct {
	Radius float64 `koanf:"radius"`
}

// LOSConfig holds the physical model and sampling of the LOS engine.
type LOSConfig struct {
	LightCurvature     float64 `koanf:"light_curvature"`
	EndBuffer          float64 `koanf:"end_buffer"`
	SampleSpacing      float64 `koanf:"sample_spacing"`
	CoarseSamples      int     `koanf:"coarse_samples"`
	CheckContrast      bool    `koanf:"check_contrast"`
	ContrastThreshold  float64 `koanf:"contrast_threshold"`
	ScatterCoefficient float64 `koanf:"scatter_coefficient"`
	ScaleHeight        float64 `koanf:"scale_height"`
	ShadedLength       float64 `koanf:"shaded_length"`
	ShadeRatio         float64 `koanf:"shade_ratio"`
	ContrastNodes      int     `koanf:"contrast_nodes"`
}

type PatchConfig struct {
	Size     int    `koanf:"size"`
	Dir      string `koanf:"dir"`
	Compress bool   `koanf:"compress"`
	Workers  int    `koanf:"workers"`
}

type SearchConfig struct {
	Workers            int           `koanf:"workers"`
	EliminateDominated bool          `koanf:"eliminate_dominated"`
	IsolationSlack     float64       `koanf:"isolation_slack"`
	CheckpointDir      string        `koanf:"checkpoint_dir"`
	CompactEvery       int           `koanf:"compact_every"`
	CompactInterval    time.Duration `koanf:"compact_interval"`
}

// SurveyConfig filters the longest line-of-sight survey.
type SurveyConfig struct {
	MinDistance   float64 `koanf:"min_distance"`
	MinProminence float64 `koanf:"min_prominence"`
}

type ElevationConfig struct {
	BaseURL           string        `koanf:"base_url"`
	BatchSize         int           `koanf:"batch_size"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	Timeout           time.Duration `koanf:"timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Exporter    string  `koanf:"exporter"`
	Endpoint    string  `koanf:"endpoint"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

func defaults() map[string]any {
	los := core.DefaultConfig()
	el := elevation.DefaultConfig()
	sc := search.DefaultConfig()
	return map[string]any{
		"earth.radius": los.EarthRadius,

		"los.light_curvature":     los.LightCurvature,
		"los.end_buffer":          los.EndBuffer,
		"los.sample_spacing":      los.SampleSpacing,
		"los.coarse_samples":      los.CoarseSamples,
		"los.check_contrast":      los.CheckContrast,
		"los.contrast_threshold":  los.ContrastThreshold,
		"los.scatter_coefficient": los.ScatterCoefficient,
		"los.scale_height":        los.ScaleHeight,
		"los.shaded_length":       los.ShadedLength,
		"los.shade_ratio":         los.ShadeRatio,
		"los.contrast_nodes":      los.ContrastNodes,

		"patch.size":     10,
		"patch.dir":      "data/patches",
		"patch.compress": true,
		"patch.workers":  4,

		"search.workers":             sc.Workers,
		"search.eliminate_dominated": sc.EliminateDominated,
		"search.isolation_slack":     sc.IsolationSlack,
		"search.checkpoint_dir":      "data/checkpoint",
		"search.compact_every":       sc.CompactEvery,
		"search.compact_interval":    sc.CompactInterval.String(),

		"survey.min_distance":   300000.0,
		"survey.min_prominence": 300.0,

		"elevation.base_url":            el.BaseURL,
		"elevation.batch_size":          el.BatchSize,
		"elevation.requests_per_second": el.RequestsPerSecond,
		"elevation.burst":               el.Burst,
		"elevation.max_attempts":        el.MaxAttempts,
		"elevation.initial_backoff":     el.InitialBackoff.String(),
		"elevation.max_backoff":         el.MaxBackoff.String(),
		"elevation.timeout":             el.Timeout.String(),

		"logging.level":  "info",
		"logging.format": "text",

		"tracing.enabled":      false,
		"tracing.service_name": observability.DefaultServiceName,
		"tracing.exporter":     "stdout",
		"tracing.sample_ratio": 1.0,

		"metrics.addr": ":9090",
	}
}

// envKey maps PINNACLE_SEARCH__COMPACT_EVERY to search.compact_every.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Default returns the built-in configuration without file or environment
// overrides.
func Default() Config {
	cfg, err := load("", false)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// Load builds the configuration. path may be empty to skip the YAML layer.
func Load(path string) (Config, error) {
	return load(path, true)
}

func load(path string, withEnv bool) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return Config{}, fmt.Errorf("load environment: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no run can use.
func (c Config) Validate() error {
	if err := c.Core().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch {
	case !slices.Contains(patch.AllowedSizes, c.Patch.Size):
		return fmt.Errorf("%w: patch size %d not in %v", ErrInvalid, c.Patch.Size, patch.AllowedSizes)
	case c.Patch.Workers <= 0:
		return fmt.Errorf("%w: patch workers %d", ErrInvalid, c.Patch.Workers)
	case c.Search.Workers <= 0:
		return fmt.Errorf("%w: search workers %d", ErrInvalid, c.Search.Workers)
	case c.Search.IsolationSlack < 0 || c.Search.IsolationSlack > 1:
		return fmt.Errorf("%w: isolation slack %v", ErrInvalid, c.Search.IsolationSlack)
	case c.Elevation.BatchSize < 1 || c.Elevation.BatchSize > 100:
		return fmt.Errorf("%w: elevation batch size %d outside [1, 100]", ErrInvalid, c.Elevation.BatchSize)
	case c.Elevation.MaxAttempts < 1:
		return fmt.Errorf("%w: elevation max attempts %d", ErrInvalid, c.Elevation.MaxAttempts)
	}
	return nil
}

// Core returns the LOS engine configuration. The engine batches terrain
// requests at the elevation client's batch size.
func (c Config) Core() core.Config {
	return core.Config{
		EarthRadius:        c.Earth.Radius,
		LightCurvature:     c.LOS.LightCurvature,
		EndBuffer:          c.LOS.EndBuffer,
		SampleSpacing:      c.LOS.SampleSpacing,
		CoarseSamples:      c.LOS.CoarseSamples,
		BatchSize:          c.Elevation.BatchSize,
		CheckContrast:      c.LOS.CheckContrast,
		ContrastThreshold:  c.LOS.ContrastThreshold,
		ScatterCoefficient: c.LOS.ScatterCoefficient,
		ScaleHeight:        c.LOS.ScaleHeight,
		ShadedLength:       c.LOS.ShadedLength,
		ShadeRatio:         c.LOS.ShadeRatio,
		ContrastNodes:      c.LOS.ContrastNodes,
	}
}

func (c Config) ElevationClient() elevation.Config {
	e := c.Elevation
	return elevation.Config{
		BaseURL:           e.BaseURL,
		BatchSize:         e.BatchSize,
		RequestsPerSecond: e.RequestsPerSecond,
		Burst:             e.Burst,
		MaxAttempts:       e.MaxAttempts,
		InitialBackoff:    e.InitialBackoff,
		MaxBackoff:        e.MaxBackoff,
		Timeout:           e.Timeout,
	}
}

// SearchRun returns the searcher settings; limit caps the candidates of one
// invocation.
func (c Config) SearchRun(limit int) search.Config {
	return search.Config{
		Workers:            c.Search.Workers,
		EliminateDominated: c.Search.EliminateDominated,
		IsolationSlack:     c.Search.IsolationSlack,
		CompactEvery:       c.Search.CompactEvery,
		CompactInterval:    c.Search.CompactInterval,
		Limit:              limit,
	}
}

func (c Config) Grid() (patch.Grid, error) {
	return patch.NewGrid(c.Patch.Size)
}

// PatchStore returns the patch directory, refusing patches sized for a
// different light curvature or Earth radius.
func (c Config) PatchStore(horizon func(elevation float64) float64) *patch.FileStore {
	return &patch.FileStore{
		Dir:            c.Patch.Dir,
		Compress:       c.Patch.Compress,
		Horizon:        horizon,
		LightCurvature: c.LOS.LightCurvature,
		Radius:         c.Earth.Radius,
	}
}

func (c Config) Logger() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

func (c Config) TracingSettings() observability.TracingConfig {
	t := c.Tracing
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
	}
}
