package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/clients/elevation"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/export"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

// Options describe one line-of-sight query.
type Options struct {
	From, To    model.Point // Elevation NaN means look it up
	ProfilePath string
	KMLPath     string
}

func main() {
	configPath := flag.String("config", "", "YAML config file; defaults and PINNACLE_ env vars apply without it")
	from := flag.String("from", "", "observer as lat,lng[,elevation]")
	to := flag.String("to", "", "target as lat,lng[,elevation]")
	profilePath := flag.String("profile", "", "write the sampled profile as CSV")
	kmlPath := flag.String("kml", "", "write the path as KML")
	flag.Parse()

	observer, err := parsePoint(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "los: -from: %v\n", err)
		os.Exit(2)
	}
	target, err := parsePoint(*to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "los: -to: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "los: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{From: observer, To: target, ProfilePath: *profilePath, KMLPath: *kmlPath}
	if err := run(ctx, cfg, opts, os.Stdout, log); err != nil {
		log.Error(ctx, "line of sight failed", logging.Err(err))
		os.Exit(1)
	}
}

// parsePoint reads "lat,lng" or "lat,lng,elevation".
func parsePoint(s string) (model.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return model.Point{}, errors.New("want lat,lng[,elevation]")
	}
	vals := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return model.Point{}, err
		}
		vals[i] = v
	}
	p := model.NewPoint(vals[0], vals[1])
	if len(vals) == 3 {
		p.Elevation = vals[2]
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return model.Point{}, fmt.Errorf("coordinates %v,%v out of range", p.Lat, p.Lng)
	}
	return p, nil
}

func run(ctx context.Context, cfg config.Config, opts Options, out io.Writer, log logging.Logger) error {
	client := elevation.NewClient(cfg.ElevationClient(), elevation.WithLogger(log))

	var lookup []model.Point
	for _, p := range []model.Point{opts.From, opts.To} {
		if !p.HasElevation() {
			lookup = append(lookup, p)
		}
	}
	if len(lookup) > 0 {
		elevations, err := client.Elevations(ctx, lookup)
		if err != nil {
			return fmt.Errorf("endpoint elevations: %w", err)
		}
		i := 0
		for _, p := range []*model.Point{&opts.From, &opts.To} {
			if !p.HasElevation() {
				p.Elevation = elevations[i]
				i++
			}
		}
	}

	engine, err := core.NewEngine(cfg.Core(), client)
	if err != nil {
		return err
	}
	observer := model.Summit{ID: 1, Point: opts.From}
	target := model.Summit{ID: 2, Point: opts.To}

	res, err := engine.HasSight(ctx, observer, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "observer     %.5f, %.5f at %.1f m\n", observer.Lat, observer.Lng, observer.Elevation)
	fmt.Fprintf(out, "target       %.5f, %.5f at %.1f m\n", target.Lat, target.Lng, target.Elevation)
	fmt.Fprintf(out, "distance     %.3f km\n", res.Distance/1000)
	fmt.Fprintf(out, "visible      %t (decided at %s, %d samples)\n", res.Visible, res.Stage, res.Samples)
	if res.Stage == core.StageRange || res.Stage == core.StageSelf {
		return nil
	}

	los, err := engine.Trace(ctx, observer, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "contrast     %.3f\n", los.Contrast())
	fmt.Fprintf(out, "light path   %.3f km\n", los.LightPathLength()/1000)
	if c := los.Clearance(); !math.IsInf(c, 1) {
		fmt.Fprintf(out, "clearance    %.1f m\n", c)
	}
	if p, blocked := los.Blocking(); blocked {
		fmt.Fprintf(out, "blocked at   %.5f, %.5f (%.1f m) %.3f km from observer\n",
			p.Lat, p.Lng, p.Elevation, p.SurfaceDistance/1000)
	}
	fmt.Fprintf(out, "polyline     %s\n", los.EncodedPath())

	if opts.ProfilePath != "" {
		if err := writeFile(opts.ProfilePath, func(w io.Writer) error { return export.WriteProfile(w, los) }); err != nil {
			return err
		}
	}
	if opts.KMLPath != "" {
		if err := writeFile(opts.KMLPath, func(w io.Writer) error { return export.WriteKML(w, "Line of sight", nil, los) }); err != nil {
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
