package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/clients/elevation"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/export"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/patch"
	"github.com/jgbreault/PinnaclePoints/search"
)

// Options are the per-invocation knobs not carried by the config file.
type Options struct {
	CatalogPath string
	OutPath     string
	GeoJSONPath string
	Top         int // keep this many lines, 0 for all
}

func main() {
	configPath := flag.String("config", "", "YAML config file; defaults and PINNACLE_ env vars apply without it")
	catalogPath := flag.String("catalog", "data/summits.csv", "summit catalog CSV")
	outPath := flag.String("out", "data/longest_lines.csv", "result table")
	geojsonPath := flag.String("geojson", "", "optional GeoJSON export of the lines")
	top := flag.Int("top", 100, "keep the longest N lines, 0 for all")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "longestlos: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{CatalogPath: *catalogPath, OutPath: *outPath, GeoJSONPath: *geojsonPath, Top: *top}
	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error(ctx, "survey failed", logging.Err(err))
		os.Exit(1)
	}
}

// prominent accepts summits whose recorded prominence reaches min. Summits
// without a prominence pass only when min is zero.
func prominent(min float64) func(model.Summit) bool {
	return func(s model.Summit) bool {
		if s.Prominence == nil {
			return min <= 0
		}
		return *s.Prominence >= min
	}
}

func run(ctx context.Context, cfg config.Config, opts Options, log logging.Logger) error {
	ctx, _ = logging.EnsureRunID(ctx)

	summits, err := catalog.Load(ctx, opts.CatalogPath, log)
	if err != nil {
		return err
	}
	keep := prominent(cfg.Survey.MinProminence)
	var observers []model.Summit
	for _, s := range summits {
		if keep(s) {
			observers = append(observers, s)
		}
	}
	model.SortByElevation(observers)

	client := elevation.NewClient(cfg.ElevationClient(), elevation.WithLogger(log))
	engine, err := core.NewEngine(cfg.Core(), client)
	if err != nil {
		return err
	}
	grid, err := cfg.Grid()
	if err != nil {
		return err
	}
	index := patch.NewIndex(grid, cfg.PatchStore(nil))

	searcher := search.New(engine, index, cfg.SearchRun(0), search.WithLogger(log))
	lines, err := searcher.Survey(ctx, observers, search.SurveyOptions{
		MinDistance: cfg.Survey.MinDistance,
		Target:      keep,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if opts.Top > 0 && len(lines) > opts.Top {
		lines = lines[:opts.Top]
	}
	log.Info(ctx, "survey finished",
		logging.Int("observers", len(observers)),
		logging.Int("lines", len(lines)),
	)

	if opts.OutPath != "" {
		if err := writeFile(opts.OutPath, func(w io.Writer) error { return export.WriteSightLines(w, lines) }); err != nil {
			return err
		}
	}
	if opts.GeoJSONPath != "" {
		if err := writeFile(opts.GeoJSONPath, func(w io.Writer) error { return export.WriteGeoJSON(w, nil, lines) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
