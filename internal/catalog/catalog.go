// Package catalog reads and writes summit tables as CSV.
package catalog

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

var (
	// ErrDuplicateSummit marks a row whose id was already seen.
	ErrDuplicateSummit = errors.New("duplicate summit id")
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing column")
)

// RowError describes a rejected row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

const (
	colID         = "summitId"
	colLat        = "latitude"
	colLng        = "longitude"
	colElevation  = "elevation"
	colProminence = "prominence"
	colIsolation  = "isolation"
	colHorizon    = "maxHorizonDistance"
)

var aliases = map[string]string{
	"summitid":           colID,
	"id":                 colID,
	"latitude":           colLat,
	"lat":                colLat,
	"longitude":          colLng,
	"lng":                colLng,
	"lon":                colLng,
	"elevation":          colElevation,
	"elev":               colElevation,
	"prominence":         colProminence,
	"isolation":          colIsolation,
	"maxhorizondistance": colHorizon,
}

// ReadSummits parses a summit table. Lines starting with '#' are skipped.
// Rows that fail validation are returned as RowErrors and left out of the
// result; the error is non-nil only when the table itself is unreadable.
func ReadSummits(r io.Reader) ([]model.Summit, []*RowError, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	width := len(header)
	cols := make(map[string]int, width)
	for i, name := range header {
		if canonical, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			cols[canonical] = i
		}
	}
	for _, required := range []string{colID, colLat, colLng, colElevation} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	var (
		summits  []model.Summit
		rejected []*RowError
		seen     = make(map[int64]struct{})
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		s, err := parseRow(record, cols, width)
		if err == nil {
			if _, dup := seen[s.ID]; dup {
				err = fmt.Errorf("%w: %d", ErrDuplicateSummit, s.ID)
			}
		}
		if err != nil {
			rejected = append(rejected, &RowError{Line: line, Err: err})
			continue
		}
		seen[s.ID] = struct{}{}
		summits = append(summits, s)
	}
	return summits, rejected, nil
}

func parseRow(record []string, cols map[string]int, width int) (model.Summit, error) {
	if len(record) != width {
		return model.Summit{}, fmt.Errorf("%w: %d fields, want %d", model.ErrInvalidSummit, len(record), width)
	}
	field := func(name string) string { return strings.TrimSpace(record[cols[name]]) }

	id, err := strconv.ParseInt(field(colID), 10, 64)
	if err != nil {
		return model.Summit{}, fmt.Errorf("%w: id %q", model.ErrInvalidSummit, field(colID))
	}
	var s model.Summit
	s.ID = id
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{colLat, &s.Lat},
		{colLng, &s.Lng},
		{colElevation, &s.Elevation},
	} {
		v, err := strconv.ParseFloat(field(f.name), 64)
		if err != nil {
			return model.Summit{}, fmt.Errorf("%w: summit %d %s %q", model.ErrInvalidSummit, id, f.name, field(f.name))
		}
		*f.dst = v
	}
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{colProminence, &s.Prominence},
		{colIsolation, &s.Isolation},
	} {
		if _, ok := cols[f.name]; !ok || field(f.name) == "" {
			continue
		}
		v, err := strconv.ParseFloat(field(f.name), 64)
		if err != nil {
			return model.Summit{}, fmt.Errorf("%w: summit %d %s %q", model.ErrInvalidSummit, id, f.name, field(f.name))
		}
		*f.dst = model.Float(v)
	}
	if err := s.Validate(); err != nil {
		return model.Summit{}, err
	}
	return s, nil
}

// WriteOptions controls the columns and precision of WriteSummits.
type WriteOptions struct {
	Prominence bool
	Isolation  bool
	// Horizon, when set, adds a maxHorizonDistance column.
	Horizon func(elevation float64) float64

	// CoordDecimals and MetreDecimals round coordinates and lengths. -1
	// writes the shortest exact representation.
	CoordDecimals int
	MetreDecimals int
}

// Lossless returns options that round-trip every value, with optional
// columns present when any summit carries them.
func Lossless(summits []model.Summit) WriteOptions {
	opts := WriteOptions{CoordDecimals: -1, MetreDecimals: -1}
	for _, s := range summits {
		opts.Prominence = opts.Prominence || s.Prominence != nil
		opts.Isolation = opts.Isolation || s.Isolation != nil
	}
	return opts
}

// WriteSummits writes summits as CSV with a header row.
func WriteSummits(w io.Writer, summits []model.Summit, opts WriteOptions) error {
	cw := csv.NewWriter(w)

	header := []string{colID, colLat, colLng, colElevation}
	if opts.Horizon != nil {
		header = append(header, colHorizon)
	}
	if opts.Prominence {
		header = append(header, colProminence)
	}
	if opts.Isolation {
		header = append(header, colIsolation)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	coord := func(v float64) string { return strconv.FormatFloat(v, 'f', opts.CoordDecimals, 64) }
	metres := func(v float64) string { return strconv.FormatFloat(v, 'f', opts.MetreDecimals, 64) }
	optional := func(v *float64) string {
		if v == nil {
			return ""
		}
		return metres(*v)
	}

	row := make([]string, 0, len(header))
	for _, s := range summits {
		row = append(row[:0],
			strconv.FormatInt(s.ID, 10),
			coord(s.Lat),
			coord(s.Lng),
			metres(s.Elevation),
		)
		if opts.Horizon != nil {
			row = append(row, metres(opts.Horizon(s.Elevation)))
		}
		if opts.Prominence {
			row = append(row, optional(s.Prominence))
		}
		if opts.Isolation {
			row = append(row, optional(s.Isolation))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CorrectElevations raises each summit's recorded elevation to the terrain
// elevation at its location when the terrain is higher. It returns the
// number of summits changed.
func CorrectElevations(ctx context.Context, summits []model.Summit, src core.ElevationSource, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	changed := 0
	for start := 0; start < len(summits); start += batchSize {
		end := min(start+batchSize, len(summits))
		points := make([]model.Point, 0, end-start)
		for _, s := range summits[start:end] {
			points = append(points, s.Point)
		}
		elevations, err := src.Elevations(ctx, points)
		if err != nil {
			return changed, fmt.Errorf("%w: %w", core.ErrElevationUnavailable, err)
		}
		if len(elevations) != len(points) {
			return changed, fmt.Errorf("%w: asked for %d elevations, got %d",
				core.ErrElevationUnavailable, len(points), len(elevations))
		}
		for i, e := range elevations {
			s := &summits[start+i]
			if !math.IsNaN(e) && e > s.Elevation {
				s.Elevation = e
				changed++
			}
		}
	}
	return changed, nil
}

// Load reads the summit table at path, logging and dropping invalid rows.
func Load(ctx context.Context, path string, log logging.Logger) ([]model.Summit, error) {
	if log == nil {
		log = logging.Noop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	summits, rowErrs, err := ReadSummits(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, re := range rowErrs {
		log.Warn(ctx, "skipping summit row",
			logging.String("path", path),
			logging.Int("line", re.Line),
			logging.Err(re.Err),
		)
	}
	log.Info(ctx, "catalog loaded",
		logging.String("path", path),
		logging.Int("summits", len(summits)),
		logging.Int("rejected", len(rowErrs)),
	)
	return summits, nil
}

// Save replaces the table at path atomically.
func Save(path string, summits []model.Summit, opts WriteOptions) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	if err = WriteSummits(w, summits, opts); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
