package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/checkpoint"
	"github.com/jgbreault/PinnaclePoints/internal/clients/elevation"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/export"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/internal/observability"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/patch"
	"github.com/jgbreault/PinnaclePoints/search"
)

// Options are the per-invocation knobs not carried by the config file.
type Options struct {
	CatalogPath string
	OutPath     string
	KMLPath     string
	GeoJSONPath string
	Limit       int
}

func main() {
	configPath := flag.String("config", "", "YAML config file; defaults and PINNACLE_ env vars apply without it")
	catalogPath := flag.String("catalog", "data/summits.csv", "summit catalog CSV")
	outPath := flag.String("out", "data/pinnacle_points.csv", "result table")
	kmlPath := flag.String("kml", "", "optional KML export of the results")
	geojsonPath := flag.String("geojson", "", "optional GeoJSON export of the results")
	limit := flag.Int("limit", 0, "classify at most this many candidates, 0 for all")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics, overrides metrics.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pinnacle: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	log := logging.New(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{
		CatalogPath: *catalogPath,
		OutPath:     *outPath,
		KMLPath:     *kmlPath,
		GeoJSONPath: *geojsonPath,
		Limit:       *limit,
	}
	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error(ctx, "pinnacle search failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts Options, log logging.Logger) error {
	ctx, _ = logging.EnsureRunID(ctx)

	shutdown, err := observability.InitTracing(ctx, cfg.TracingSettings(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewSearchCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if srv := serveMetrics(cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	summits, err := catalog.Load(ctx, opts.CatalogPath, log)
	if err != nil {
		return err
	}

	client := elevation.NewClient(cfg.ElevationClient(),
		elevation.WithLogger(log),
		elevation.WithRecorder(collector),
	)
	engine, err := core.NewEngine(cfg.Core(), client, core.WithStageObserver(collector))
	if err != nil {
		return err
	}

	grid, err := cfg.Grid()
	if err != nil {
		return err
	}
	store := cfg.PatchStore(engine.HorizonDistance)
	index := patch.NewIndex(grid, store)
	unsubscribe := index.Subscribe(func(ev patch.Event) {
		if ev.Type != patch.EventPatchLoaded {
			return
		}
		collector.PatchLoaded()
		log.Debug(ctx, "patch loaded", logging.String("patch", ev.Key.String()), logging.Int("summits", ev.Summits))
	})
	defer unsubscribe()

	journal, state, err := checkpoint.Open(ctx, cfg.Search.CheckpointDir, summits, log)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer journal.Close()
	collector.SetProgress(len(state.Remaining), len(state.Found))

	searcher := search.New(engine, index, cfg.SearchRun(opts.Limit),
		search.WithLogger(log),
		search.WithMetrics(collector),
	)
	out, err := searcher.Run(ctx, state.Remaining, state.Found, journal)
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return err
	}
	if interrupted {
		log.Warn(ctx, "search interrupted; progress is checkpointed",
			logging.Int("remaining", len(out.Remaining)))
	}

	return writeOutputs(opts, out.Found, engine.HorizonDistance, log)
}

func writeOutputs(opts Options, found []model.Summit, horizon func(float64) float64, log logging.Logger) error {
	ctx := context.Background()
	if opts.OutPath != "" {
		if err := writeFile(opts.OutPath, func(f *os.File) error {
			return export.WriteResults(f, found, horizon)
		}); err != nil {
			return err
		}
		log.Info(ctx, "results written", logging.String("path", opts.OutPath), logging.Int("pinnacles", len(found)))
	}
	if opts.KMLPath != "" {
		if err := writeFile(opts.KMLPath, func(f *os.File) error {
			return export.WriteKML(f, "Pinnacle points", found)
		}); err != nil {
			return err
		}
	}
	if opts.GeoJSONPath != "" {
		if err := writeFile(opts.GeoJSONPath, func(f *os.File) error {
			return export.WriteGeoJSON(f, found, nil)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
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

func serveMetrics(addr string, collector *observability.SearchCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
