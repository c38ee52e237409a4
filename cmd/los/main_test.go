package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jgbreault/PinnaclePoints/internal/config"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
)

// ridgeServer reports a 1400 m ridge for latitudes between 0.04 and 0.05
// and sea level elsewhere.
func ridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lats := strings.Split(r.URL.Query().Get("latitude"), ",")
		out := make([]float64, len(lats))
		for i, raw := range lats {
			lat, _ := strconv.ParseFloat(raw, 64)
			if lat > 0.04 && lat < 0.05 {
				out[i] = 1400
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"elevation": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("46.85, -121.76")
	if err != nil {
		t.Fatalf("parsePoint: %v", err)
	}
	if p.Lat != 46.85 || p.Lng != -121.76 || !math.IsNaN(p.Elevation) {
		t.Errorf("parsePoint = %+v", p)
	}
	p, err = parsePoint("1,2,300")
	if err != nil || p.Elevation != 300 {
		t.Errorf("parsePoint with elevation = %+v, %v", p, err)
	}
	for _, bad := range []string{"", "1", "1,2,3,4", "a,b", "91,0"} {
		if _, err := parsePoint(bad); err == nil {
			t.Errorf("parsePoint(%q) succeeded", bad)
		}
	}
}

func TestLOSReport(t *testing.T) {
	cfg := config.Default()
	cfg.Elevation.BaseURL = ridgeServer(t).URL
	dir := t.TempDir()

	cases := []struct {
		name    string
		to      string
		visible bool
	}{
		{"across the ridge", "0.08993,0,1500", false},
		{"along the equator", "0,0.08993,1500", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from, _ := parsePoint("0,0,1000")
			to, err := parsePoint(tc.to)
			if err != nil {
				t.Fatalf("parsePoint: %v", err)
			}
			profile := filepath.Join(dir, tc.name+".csv")
			var out bytes.Buffer
			opts := Options{From: from, To: to, ProfilePath: profile, KMLPath: filepath.Join(dir, tc.name+".kml")}
			if err := run(context.Background(), cfg, opts, &out, logging.Noop()); err != nil {
				t.Fatalf("run: %v", err)
			}
			want := "visible      " + strconv.FormatBool(tc.visible)
			if !strings.Contains(out.String(), want) {
				t.Errorf("report missing %q:\n%s", want, out.String())
			}
			if strings.Contains(out.String(), "blocked at") == tc.visible {
				t.Errorf("blocked line mismatch:\n%s", out.String())
			}
			if _, err := os.Stat(profile); err != nil {
				t.Errorf("profile not written: %v", err)
			}
		})
	}
}
