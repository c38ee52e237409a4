package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/patch"
)

func TestProminent(t *testing.T) {
	s := model.Summit{ID: 1}
	if !prominent(0)(s) || prominent(100)(s) {
		t.Errorf("summit without prominence misclassified")
	}
	s.Prominence = model.Float(150)
	if !prominent(100)(s) || prominent(200)(s) {
		t.Errorf("summit with prominence 150 misclassified")
	}
}

func TestSurveyWritesLongestLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := len(strings.Split(r.URL.Query().Get("latitude"), ","))
		_ = json.NewEncoder(w).Encode(map[string]any{"elevation": make([]float64, n)})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Elevation.BaseURL = srv.URL
	cfg.Patch.Dir = filepath.Join(dir, "patches")
	cfg.Survey.MinDistance = 15000
	cfg.Survey.MinProminence = 100

	catalogPath := filepath.Join(dir, "summits.csv")
	body := "summitId,latitude,longitude,elevation,prominence\n" +
		"1,0,0,2000,1500\n" +
		"2,0,0.1,800,300\n" +
		"3,0,0.2,700,300\n" +
		"4,0,0.3,600,50\n"
	if err := os.WriteFile(catalogPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	summits, err := catalog.Load(ctx, catalogPath, nil)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	grid, _ := cfg.Grid()
	horizon := core.NewRefraction(cfg.Core()).HorizonDistance
	patches, err := (&patch.Builder{Grid: grid, Horizon: horizon, LightCurvature: cfg.LOS.LightCurvature, Radius: cfg.Earth.Radius}).Build(ctx, summits)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	store := cfg.PatchStore(horizon)
	for _, p := range patches {
		if err := store.Save(p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	opts := Options{CatalogPath: catalogPath, OutPath: filepath.Join(dir, "lines.csv")}
	if err := run(ctx, cfg, opts, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := os.Open(opts.OutPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Summit 4 lacks prominence and summit 2 is within 15 km of summit 3,
	// leaving 1 -> 3 (about 22 km) as the only line.
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header plus one line: %v", len(rows), rows)
	}
	if rows[1][0] != "1" || rows[1][4] != "3" {
		t.Errorf("line = %v, want observer 1 to target 3", rows[1])
	}
}
