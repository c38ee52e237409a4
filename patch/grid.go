// Package patch partitions the globe into rectangular patches with polar
// caps so that every summit that could possibly see a candidate is found by
// loading a single patch.
package patch

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/jgbreault/PinnaclePoints/core"
)

// AllowedSizes are the patch edge lengths, in degrees, that tile both
// latitude and longitude evenly.
var AllowedSizes = []int{10, 15, 18, 30, 45}

var (
	ErrInvalidSize  = errors.New("invalid patch size")
	ErrPatchMissing = errors.New("patch missing")
	// ErrModelMismatch marks a patch whose halo was sized for another
	// light curvature or Earth radius.
	ErrModelMismatch = errors.New("patch built for a different model")
)

// Kind distinguishes latitude bands from the polar caps.
type Kind int

const (
	Band Kind = iota
	NorthCap
	SouthCap
)

// Key identifies a patch. For bands South and West are the degrees of the
// south-west corner; they are zero for caps.
type Key struct {
	Kind  Kind
	South int
	West  int
}

func (k Key) String() string {
	switch k.Kind {
	case NorthCap:
		return "north_cap"
	case SouthCap:
		return "south_cap"
	default:
		return fmt.Sprintf("lat%+03d_lng%+04d", k.South, k.West)
	}
}

// Grid is a patch layout of a given size.
type Grid struct {
	size int
}

// NewGrid returns the grid for a size in AllowedSizes.
func NewGrid(size int) (Grid, error) {
	if !slices.Contains(AllowedSizes, size) {
		return Grid{}, fmt.Errorf("%w: %d, want one of %v", ErrInvalidSize, size, AllowedSizes)
	}
	return Grid{size: size}, nil
}

// Size is the edge length in degrees.
func (g Grid) Size() int { return g.size }

// PoleLatitude is where the caps begin.
func (g Grid) PoleLatitude() int { return 90 - g.size }

// KeyFor returns the key of the patch whose inner bounds contain the point.
// Latitudes at or above the pole latitude belong to the north cap, those
// below its negation to the south cap.
func (g Grid) KeyFor(lat, lng float64) Key {
	pole := float64(g.PoleLatitude())
	switch {
	case lat >= pole:
		return Key{Kind: NorthCap}
	case lat < -pole:
		return Key{Kind: SouthCap}
	}
	size := float64(g.size)
	return Key{
		Kind:  Band,
		South: int(math.Floor(lat/size)) * g.size,
		West:  int(math.Floor(core.NormalizeLng(lng)/size)) * g.size,
	}
}

// Keys lists every patch of the grid, caps last.
func (g Grid) Keys() []Key {
	pole := g.PoleLatitude()
	var keys []Key
	for south := -pole; south < pole; south += g.size {
		for west := -180; west < 180; west += g.size {
			keys = append(keys, Key{Kind: Band, South: south, West: west})
		}
	}
	return append(keys, Key{Kind: NorthCap}, Key{Kind: SouthCap})
}

// InnerBounds returns the region a patch is responsible for.
func (g Grid) InnerBounds(k Key) Bounds {
	pole := float64(g.PoleLatitude())
	switch k.Kind {
	case NorthCap:
		return Bounds{South: pole, North: 90, West: -180, East: 180, AllLng: true}
	case SouthCap:
		return Bounds{South: -90, North: -pole, West: -180, East: 180, AllLng: true}
	}
	return Bounds{
		South: float64(k.South),
		North: float64(k.South + g.size),
		West:  float64(k.West),
		East:  float64(k.West + g.size),
	}
}

// Bounds is a latitude range and a longitude range. South is inclusive and
// North exclusive unless it is the pole. West is inclusive and East
// exclusive; when West > East the range crosses the antimeridian.
type Bounds struct {
	South, North float64
	West, East   float64
	AllLng       bool
}

// Contains reports whether a point lies within the bounds.
func (b Bounds) Contains(lat, lng float64) bool {
	if lat < b.South {
		return false
	}
	if b.North >= 90 {
		if lat > 90 {
			return false
		}
	} else if lat >= b.North {
		return false
	}
	if b.AllLng {
		return true
	}
	lng = core.NormalizeLng(lng)
	if b.West <= b.East {
		return lng >= b.West && lng < b.East
	}
	return lng >= b.West || lng < b.East
}

// Expand grows inner bounds by a distance in metres on a sphere of the given
// radius, so that every point closer than distance to a point inside b lies
// inside the result. It also returns the latitude and longitude offsets in
// degrees; the longitude offset is +Inf when all longitudes are covered.
func (b Bounds) Expand(distance, radius float64) (Bounds, float64, float64) {
	delta := distance / radius // radians
	latOff := delta * 180 / math.Pi

	out := Bounds{
		South:  math.Max(-90, b.South-latOff),
		North:  math.Min(90, b.North+latOff),
		AllLng: b.AllLng,
		West:   b.West,
		East:   b.East,
	}
	allLng := func() (Bounds, float64, float64) {
		out.AllLng, out.West, out.East = true, -180, 180
		return out, latOff, math.Inf(1)
	}
	if out.AllLng {
		return allLng()
	}

	// The widest longitude reach happens at the poleward edge.
	poleward := math.Max(math.Abs(b.South), math.Abs(b.North)) * math.Pi / 180
	if delta >= math.Pi/2-poleward {
		return allLng()
	}
	lngOff := math.Asin(math.Min(1, math.Sin(delta)/math.Cos(poleward))) * 180 / math.Pi
	if 2*lngOff+(b.East-b.West) >= 360 {
		return allLng()
	}
	if lngOff > 0 {
		out.West = core.NormalizeLng(b.West - lngOff)
		out.East = core.NormalizeLng(b.East + lngOff)
		if out.East == -180 {
			out.East = 180
		}
	}
	return out, latOff, lngOff
}
