package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/patch"
)

func TestPatchmakerBuildsLoadablePatches(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "summits.csv")
	body := "summitId,latitude,longitude,elevation\n" +
		"1,46.8529,-121.7604,4392\n" +
		"2,46.2,-122.18,2549\n" +
		"3,85.5,10,500\n" +
		"4,-85.1,-170,4000\n"
	if err := os.WriteFile(catalogPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	// Terrain reports 3000 m everywhere.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := len(strings.Split(r.URL.Query().Get("latitude"), ","))
		out := make([]float64, n)
		for i := range out {
			out[i] = 3000
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"elevation": out})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Patch.Dir = filepath.Join(dir, "patches")
	cfg.Elevation.BaseURL = srv.URL
	opts := Options{
		CatalogPath:   catalogPath,
		CorrectedPath: filepath.Join(dir, "corrected.csv"),
		Correct:       true,
	}
	if err := run(context.Background(), cfg, opts, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	grid, err := cfg.Grid()
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	store := cfg.PatchStore(nil)
	ix := patch.NewIndex(grid, store)
	for _, pt := range [][2]float64{{46.8529, -121.7604}, {85.5, 10}, {-85.1, -170}} {
		p, err := ix.Lookup(pt[0], pt[1])
		if err != nil {
			t.Fatalf("Lookup(%v): %v", pt, err)
		}
		if p.InnerCount == 0 {
			t.Errorf("patch %s has no inner summits", p.Key)
		}
	}

	corrected, err := catalog.Load(context.Background(), opts.CorrectedPath, nil)
	if err != nil {
		t.Fatalf("load corrected: %v", err)
	}
	byID := map[int64]float64{}
	for _, s := range corrected {
		byID[s.ID] = s.Elevation
	}
	if byID[2] != 3000 || byID[3] != 3000 || byID[1] != 4392 {
		t.Errorf("corrected elevations = %v", byID)
	}
}
