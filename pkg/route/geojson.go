package route

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"drivesim/pkg/geo"
)

// GeoJSON property keys used for route legs.
const (
	PropDistance    = "distance"
	PropDuration    = "duration"
	PropDescription = "description"
)

// LoadGeoJSON reads route legs from a GeoJSON FeatureCollection file.
func LoadGeoJSON(path string) ([]Leg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson %s: %w", path, err)
	}
	legs, err := ParseGeoJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson %s: %w", path, err)
	}
	return legs, nil
}

// ParseGeoJSON decodes a FeatureCollection where every LineString (or
// MultiLineString) feature is one leg. Features of other geometry types are
// skipped. A missing distance property is computed from the geometry.
func ParseGeoJSON(data []byte) ([]Leg, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}

	var legs []Leg
	for _, f := range fc.Features {
		pts := linePoints(f.Geometry)
		if len(pts) == 0 {
			continue
		}
		legs = append(legs, newLeg(pts,
			f.Properties.MustFloat64(PropDistance, -1),
			f.Properties.MustFloat64(PropDuration, 0),
			f.Properties.MustString(PropDescription, "")))
	}

	if len(legs) == 0 {
		return nil, ErrNoLegs
	}
	return legs, nil
}

// WriteGeoJSON writes legs as an indented GeoJSON FeatureCollection.
func WriteGeoJSON(path string, legs []Leg) error {
	fc := geojson.NewFeatureCollection()
	for i := range legs {
		leg := &legs[i]
		line := make(orb.LineString, 0, len(leg.Points))
		for _, p := range legPoints(leg) {
			line = append(line, p.Orb())
		}
		f := geojson.NewFeature(line)
		f.Properties[PropDistance] = leg.DistanceMeters
		f.Properties[PropDuration] = leg.DurationSeconds
		f.Properties[PropDescription] = leg.Description
		fc.Append(f)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func linePoints(g orb.Geometry) []geo.Point {
	var pts []geo.Point
	switch l := g.(type) {
	case orb.LineString:
		for _, p := range l {
			pts = append(pts, geo.FromOrb(p))
		}
	case orb.MultiLineString:
		for _, ls := range l {
			for _, p := range ls {
				pts = append(pts, geo.FromOrb(p))
			}
		}
	}
	return pts
}

// newLeg builds a leg from points; a negative distance means "unknown" and
// is replaced by the polyline length.
func newLeg(pts []geo.Point, distance, duration float64, desc string) Leg {
	if distance < 0 {
		distance = geo.LineLength(pts)
	}
	return Leg{
		Start:           pts[0],
		End:             pts[len(pts)-1],
		Points:          pts,
		DistanceMeters:  distance,
		DurationSeconds: duration,
		Description:     desc,
	}
}
