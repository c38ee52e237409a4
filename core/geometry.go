package core

import (
	"fmt"
	"math"

	"github.com/jgbreault/PinnaclePoints/model"
)

// EarthRadius is the mean-sea-level radius of the spherical Earth model, in
// metres.
const EarthRadius = 6371146.0

// Vec3 is a Cartesian vector. Unit vectors on the sphere are used for all
// geodesic work so the antimeridian and the poles need no special casing.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns the cross product v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// unitVector maps a latitude/longitude onto the unit sphere.
func unitVector(lat, lng float64) Vec3 {
	phi := lat * math.Pi / 180
	lambda := lng * math.Pi / 180
	cosPhi := math.Cos(phi)
	return Vec3{
		X: cosPhi * math.Cos(lambda),
		Y: cosPhi * math.Sin(lambda),
		Z: math.Sin(phi),
	}
}

// latLng is the inverse of unitVector. The vector need not be normalised.
func latLng(v Vec3) (float64, float64) {
	lat := math.Atan2(v.Z, math.Hypot(v.X, v.Y)) * 180 / math.Pi
	lng := math.Atan2(v.Y, v.X) * 180 / math.Pi
	return lat, NormalizeLng(lng)
}

// NormalizeLng folds a longitude into [-180, 180).
func NormalizeLng(lng float64) float64 {
	l := math.Mod(lng+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// Geodesic measures and samples great-circle paths on a sphere.
type Geodesic struct {
	Radius float64 // metres
}

// NewGeodesic returns a Geodesic on a sphere of the given radius, falling back
// to EarthRadius for non-positive values.
func NewGeodesic(radius float64) Geodesic {
	if radius <= 0 {
		radius = EarthRadius
	}
	return Geodesic{Radius: radius}
}

// CentralAngle returns the angle in radians subtended at the sphere's centre
// by a and b. atan2 of |a×b| and a·b stays well conditioned for both tiny and
// near-antipodal separations, and is exactly symmetric in its arguments.
func (g Geodesic) CentralAngle(a, b model.Point) float64 {
	ua := unitVector(a.Lat, a.Lng)
	ub := unitVector(b.Lat, b.Lng)
	return math.Atan2(ua.Cross(ub).Norm(), ua.Dot(ub))
}

// Distance returns the surface distance in metres between a and b.
func (g Geodesic) Distance(a, b model.Point) float64 {
	if a.SameLocation(b) {
		return 0
	}
	return g.Radius * g.CentralAngle(a, b)
}

// Interpolate returns the point a fraction f of the way from a to b along the
// great circle. The elevation of the result is unknown.
func (g Geodesic) Interpolate(a, b model.Point, f float64) (model.Point, error) {
	ua := unitVector(a.Lat, a.Lng)
	ub := unitVector(b.Lat, b.Lng)
	theta := math.Atan2(ua.Cross(ub).Norm(), ua.Dot(ub))
	if theta == 0 {
		return model.NewPoint(a.Lat, a.Lng), nil
	}
	sinTheta := math.Sin(theta)
	if sinTheta < 1e-12 {
		return model.Point{}, fmt.Errorf("%w: (%v, %v) and (%v, %v) are antipodal",
			ErrDegenerateGeometry, a.Lat, a.Lng, b.Lat, b.Lng)
	}
	wa := math.Sin((1-f)*theta) / sinTheta
	wb := math.Sin(f*theta) / sinTheta
	lat, lng := latLng(ua.Scale(wa).Add(ub.Scale(wb)))
	return model.NewPoint(lat, lng), nil
}

// Sample returns n points evenly spaced along the geodesic from a to b,
// excluding both endpoints, ordered from a toward b.
func (g Geodesic) Sample(a, b model.Point, n int) ([]model.Point, error) {
	if n <= 0 {
		return nil, nil
	}
	points := make([]model.Point, 0, n)
	for i := 1; i <= n; i++ {
		p, err := g.Interpolate(a, b, float64(i)/float64(n+1))
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// ecef places a point in an Earth-centred frame, in metres, with its
// elevation added to the radius.
func (g Geodesic) ecef(p model.Point) Vec3 {
	h := 0.0
	if p.HasElevation() {
		h = p.Elevation
	}
	return unitVector(p.Lat, p.Lng).Scale(g.Radius + h)
}

// ApparentElevation returns the angle in degrees above the observer's local
// horizontal at which the target sits, ignoring refraction. 0° is the
// geometric horizon, 90° is overhead.
func (g Geodesic) ApparentElevation(observer, target model.Point) float64 {
	o := g.ecef(observer)
	v := g.ecef(target).Sub(o)
	vNorm := v.Norm()
	r := o.Norm()
	if vNorm == 0 || r == 0 {
		return 90
	}
	zenith := o.Scale(1 / r)

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	return 90.0 - math.Acos(cosGamma)*180.0/math.Pi
}
