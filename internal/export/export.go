// Package export writes search results for publication: rounded CSV tables,
// KML for Google Earth, GeoJSON for web maps and per-sample LOS profiles.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-kml/v2"

	"github.com/jgbreault/PinnaclePoints/core"
	"github.com/jgbreault/PinnaclePoints/internal/catalog"
	"github.com/jgbreault/PinnaclePoints/model"
	"github.com/jgbreault/PinnaclePoints/search"
)

// Result tables carry four decimal places of degrees (about 11 m) and one
// decimal place of metres.
const (
	CoordDecimals = 4
	MetreDecimals = 1
)

// WriteResults writes pinnacle points as a rounded summit table. horizon may
// be nil to omit the maxHorizonDistance column.
func WriteResults(w io.Writer, summits []model.Summit, horizon func(float64) float64) error {
	opts := catalog.Lossless(summits)
	opts.CoordDecimals = CoordDecimals
	opts.MetreDecimals = MetreDecimals
	opts.Horizon = horizon
	return catalog.WriteSummits(w, summits, opts)
}

// WriteSightLines writes survey results, longest first as given.
func WriteSightLines(w io.Writer, lines []search.SightLine) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"observerId", "observerLatitude", "observerLongitude", "observerElevation",
		"targetId", "targetLatitude", "targetLongitude", "targetElevation",
		"distance", "contrast",
	}); err != nil {
		return err
	}
	for _, l := range lines {
		if err := cw.Write([]string{
			strconv.FormatInt(l.Observer.ID, 10), coord(l.Observer.Lat), coord(l.Observer.Lng), metres(l.Observer.Elevation),
			strconv.FormatInt(l.Target.ID, 10), coord(l.Target.Lat), coord(l.Target.Lng), metres(l.Target.Elevation),
			metres(l.Distance), strconv.FormatFloat(l.Contrast, 'f', 3, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteProfile dumps every sample of a traced line of sight.
func WriteProfile(w io.Writer, los *core.LineOfSight) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"surfaceDistance", "straightDistance", "latitude", "longitude",
		"elevation", "groundHeight", "lightHeight", "clear",
	}); err != nil {
		return err
	}
	for _, p := range los.Points {
		if err := cw.Write([]string{
			metres(p.SurfaceDistance),
			metres(p.StraightDistance),
			strconv.FormatFloat(p.Lat, 'f', 6, 64),
			strconv.FormatFloat(p.Lng, 'f', 6, 64),
			metres(p.Elevation),
			strconv.FormatFloat(p.GroundHeight, 'f', 2, 64),
			strconv.FormatFloat(p.LightHeight, 'f', 2, 64),
			strconv.FormatBool(p.Clear()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func coord(v float64) string  { return strconv.FormatFloat(v, 'f', CoordDecimals, 64) }
func metres(v float64) string { return strconv.FormatFloat(v, 'f', MetreDecimals, 64) }

func summitPlacemark(s model.Summit) kml.Element {
	return kml.Placemark(
		kml.Name(strconv.FormatInt(s.ID, 10)),
		kml.Description(fmt.Sprintf("%.1f m", s.Elevation)),
		kml.Point(
			kml.AltitudeMode(kml.AltitudeModeAbsolute),
			kml.Coordinates(kml.Coordinate{Lon: s.Lng, Lat: s.Lat, Alt: s.Elevation}),
		),
	)
}

// WriteKML writes summits as placemarks and each traced path as a line
// string following the sampled ground track.
func WriteKML(w io.Writer, name string, summits []model.Summit, paths ...*core.LineOfSight) error {
	children := []kml.Element{kml.Name(name)}
	for _, s := range summits {
		children = append(children, summitPlacemark(s))
	}
	for _, los := range paths {
		coords := make([]kml.Coordinate, 0, len(los.Points))
		for _, p := range los.Points {
			coords = append(coords, kml.Coordinate{Lon: p.Lng, Lat: p.Lat})
		}
		children = append(children,
			summitPlacemark(los.Observer),
			summitPlacemark(los.Target),
			kml.Placemark(
				kml.Name(fmt.Sprintf("%d to %d", los.Observer.ID, los.Target.ID)),
				kml.Description(fmt.Sprintf("%.1f km, visible %t", los.SurfaceDistance/1000, los.Visible())),
				kml.LineString(kml.Coordinates(coords...)),
			),
		)
	}
	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

// FeatureCollection converts summits and sight lines to GeoJSON features.
func FeatureCollection(summits []model.Summit, lines []search.SightLine) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range summits {
		f := geojson.NewFeature(orb.Point{s.Lng, s.Lat})
		f.Properties["summitId"] = s.ID
		f.Properties["elevation"] = s.Elevation
		if s.Prominence != nil {
			f.Properties["prominence"] = *s.Prominence
		}
		if s.Isolation != nil {
			f.Properties["isolation"] = *s.Isolation
		}
		fc.Append(f)
	}
	for _, l := range lines {
		f := geojson.NewFeature(orb.LineString{
			{l.Observer.Lng, l.Observer.Lat},
			{l.Target.Lng, l.Target.Lat},
		})
		f.Properties["observerId"] = l.Observer.ID
		f.Properties["targetId"] = l.Target.ID
		f.Properties["distance"] = l.Distance
		f.Properties["contrast"] = l.Contrast
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes the feature collection for summits and lines.
func WriteGeoJSON(w io.Writer, summits []model.Summit, lines []search.SightLine) error {
	data, err := FeatureCollection(summits, lines).MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
