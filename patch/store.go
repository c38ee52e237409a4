package patch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jgbreault/PinnaclePoints/internal/catalog"
)

const (
	plainExt      = ".csv"
	compressedExt = ".csv.zst"
)

// FileStore keeps one CSV file per patch, headed by '#' metadata lines.
type FileStore struct {
	Dir      string
	Compress bool
	// Horizon, when set, adds each summit's horizon distance to the rows.
	Horizon func(elevation float64) float64
	// LightCurvature and Radius, when set, must match the values a patch
	// was built with or Load fails with ErrModelMismatch.
	LightCurvature float64
	Radius         float64
}

// Path returns the file a patch is saved to.
func (s *FileStore) Path(key Key) string {
	ext := plainExt
	if s.Compress {
		ext = compressedExt
	}
	return filepath.Join(s.Dir, key.String()+ext)
}

// Save writes a patch, replacing any previous file atomically.
func (s *FileStore) Save(p *Patch) (err error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	final := s.Path(p.Key)
	tmp, err := os.CreateTemp(s.Dir, "."+p.Key.String()+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var enc *zstd.Encoder
	if s.Compress {
		enc, err = zstd.NewWriter(tmp)
		if err != nil {
			return err
		}
		w = enc
	}
	bw := bufio.NewWriter(w)
	if err = writeHeader(bw, p); err != nil {
		return err
	}
	opts := catalog.Lossless(p.Summits)
	opts.Horizon = s.Horizon
	if err = catalog.WriteSummits(bw, p.Summits, opts); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return err
		}
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), final)
}

// Load reads the patch for key. It returns ErrPatchMissing when no file
// exists.
func (s *FileStore) Load(key Key) (*Patch, error) {
	data, err := s.read(key)
	if err != nil {
		return nil, err
	}
	p, err := parseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", key, err)
	}
	if p.Key != key {
		return nil, fmt.Errorf("patch %s: file holds %s", key, p.Key)
	}
	if err := s.checkModel(p); err != nil {
		return nil, fmt.Errorf("patch %s: %w", key, err)
	}
	summits, rejected, err := catalog.ReadSummits(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", key, err)
	}
	if len(rejected) > 0 {
		return nil, fmt.Errorf("patch %s: %w", key, rejected[0])
	}
	p.Summits = summits
	return p, nil
}

func (s *FileStore) checkModel(p *Patch) error {
	const tolerance = 1e-9
	if s.LightCurvature != 0 && math.Abs(p.LightCurvature-s.LightCurvature) > tolerance {
		return fmt.Errorf("%w: light curvature %v, want %v", ErrModelMismatch, p.LightCurvature, s.LightCurvature)
	}
	if s.Radius != 0 && math.Abs(p.Radius-s.Radius) > tolerance {
		return fmt.Errorf("%w: earth radius %v, want %v", ErrModelMismatch, p.Radius, s.Radius)
	}
	return nil
}

func (s *FileStore) read(key Key) ([]byte, error) {
	base := filepath.Join(s.Dir, key.String())
	f, err := os.Open(base + compressedExt)
	if err == nil {
		defer f.Close()
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	data, err := os.ReadFile(base + plainExt)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s", ErrPatchMissing, key, s.Dir)
	}
	return data, err
}

const allLongitudes = "all"

func writeHeader(w io.Writer, p *Patch) error {
	lng := func(b Bounds, v float64) string {
		if b.AllLng {
			return allLongitudes
		}
		return formatFloat(v)
	}
	lngOff := allLongitudes
	if !math.IsInf(p.LngOffset, 1) {
		lngOff = formatFloat(p.LngOffset)
	}
	lines := [][2]string{
		{"Global Summits", strconv.Itoa(p.GlobalCount)},
		{"Patch Summits (Inner)", strconv.Itoa(p.InnerCount)},
		{"Patch Summits (Outer)", strconv.Itoa(len(p.Summits))},
		{"Patch", p.Key.String()},
		{"Size", strconv.Itoa(p.Size)},
		{"North (Inner)", formatFloat(p.Inner.North)},
		{"South (Inner)", formatFloat(p.Inner.South)},
		{"East (Inner)", lng(p.Inner, p.Inner.East)},
		{"West (Inner)", lng(p.Inner, p.Inner.West)},
		{"North (Outer)", formatFloat(p.Outer.North)},
		{"South (Outer)", formatFloat(p.Outer.South)},
		{"East (Outer)", lng(p.Outer, p.Outer.East)},
		{"West (Outer)", lng(p.Outer, p.Outer.West)},
		{"Lat Offset", formatFloat(p.LatOffset)},
		{"Lng Offset", lngOff},
		{"Offset Distance", formatFloat(p.OffsetDistance)},
		{"Light Curvature", formatFloat(p.LightCurvature)},
		{"Earth Radius", formatFloat(p.Radius)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "# %s: %s\n", l[0], l[1]); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func parseHeader(data []byte) (*Patch, error) {
	meta := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		k, v, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "#")), ":")
		if ok {
			meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var firstErr error
	num := func(name string) float64 {
		v, ok := meta[name]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("missing metadata %q", name)
			}
			return 0
		}
		if v == allLongitudes {
			return math.Inf(1)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("metadata %q: %w", name, err)
		}
		return f
	}
	bounds := func(which string) Bounds {
		b := Bounds{
			North: num("North (" + which + ")"),
			South: num("South (" + which + ")"),
			East:  num("East (" + which + ")"),
			West:  num("West (" + which + ")"),
		}
		if math.IsInf(b.East, 1) || math.IsInf(b.West, 1) {
			b.AllLng, b.East, b.West = true, 180, -180
		}
		return b
	}

	size := int(num("Size"))
	grid, err := NewGrid(size)
	if err != nil {
		return nil, err
	}
	inner := bounds("Inner")
	p := &Patch{
		Key:            grid.KeyFor(inner.South, inner.West),
		Size:           size,
		Inner:          inner,
		Outer:          bounds("Outer"),
		LatOffset:      num("Lat Offset"),
		LngOffset:      num("Lng Offset"),
		OffsetDistance: num("Offset Distance"),
		LightCurvature: num("Light Curvature"),
		Radius:         num("Earth Radius"),
		GlobalCount:    int(num("Global Summits")),
		InnerCount:     int(num("Patch Summits (Inner)")),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if name := meta["Patch"]; name != p.Key.String() {
		return nil, fmt.Errorf("metadata names patch %q but bounds give %s", name, p.Key)
	}
	return p, nil
}
