package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/clients/elevation"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/patch"
)

// Options are the per-invocation knobs not carried by the config file.
type Options struct {
	CatalogPath string
	// CorrectedPath, when set, receives the catalog after elevation
	// correction.
	CorrectedPath string
	Correct       bool
}

func main() {
	configPath := flag.String("config", "", "YAML config file; defaults and PINNACLE_ env vars apply without it")
	catalogPath := flag.String("catalog", "data/summits.csv", "summit catalog CSV")
	correct := flag.Bool("correct-elevations", false, "raise summit elevations to the elevation service's value before building")
	correctedPath := flag.String("corrected-out", "", "write the corrected catalog here")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "patchmaker: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{CatalogPath: *catalogPath, CorrectedPath: *correctedPath, Correct: *correct}
	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error(ctx, "patch build failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts Options, log logging.Logger) error {
	ctx, _ = logging.EnsureRunID(ctx)

	summits, err := catalog.Load(ctx, opts.CatalogPath, log)
	if err != nil {
		return err
	}

	if opts.Correct {
		client := elevation.NewClient(cfg.ElevationClient(), elevation.WithLogger(log))
		changed, err := catalog.CorrectElevations(ctx, summits, client, cfg.Elevation.BatchSize)
		if err != nil {
			return fmt.Errorf("correct elevations: %w", err)
		}
		log.Info(ctx, "elevations corrected", logging.Int("changed", changed))
		if opts.CorrectedPath != "" {
			if err := catalog.Save(opts.CorrectedPath, summits, catalog.Lossless(summits)); err != nil {
				return err
			}
		}
	}

	grid, err := cfg.Grid()
	if err != nil {
		return err
	}
	horizon := core.NewRefraction(cfg.Core()).HorizonDistance
	builder := &patch.Builder{
		Grid:    grid,
		Horizon:        horizon,
		LightCurvature: cfg.LOS.LightCurvature,
		Radius:         cfg.Earth.Radius,
		Workers:        cfg.Patch.Workers,
		Log:            log,
	}
	patches, err := builder.Build(ctx, summits)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Patch.Dir, 0o755); err != nil {
		return err
	}
	store := cfg.PatchStore(horizon)
	for _, p := range patches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.Save(p); err != nil {
			return fmt.Errorf("save patch %s: %w", p.Key, err)
		}
	}
	log.Info(ctx, "patches saved",
		logging.String("dir", cfg.Patch.Dir),
		logging.Int("patches", len(patches)),
		logging.Int("size", grid.Size()),
	)
	return nil
}
