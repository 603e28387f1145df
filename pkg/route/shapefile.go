package route

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"

	"drivesim/pkg/geo"
)

// Shapefile attribute names for route legs.
const (
	FieldDistance    = "DISTANCE"
	FieldDuration    = "DURATION"
	FieldDescription = "DESC"
)

// LoadShapefile reads route legs from a PolyLine shapefile. Each record is
// one leg; its parts are concatenated in order.
func LoadShapefile(path string) ([]Leg, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	idx := map[string]int{}
	for i, f := range fields {
		idx[strings.ToUpper(strings.TrimSpace(f.String()))] = i
	}

	var legs []Leg
	for shape.Next() {
		n, p := shape.Shape()

		pl, ok := p.(*shp.PolyLine)
		if !ok {
			continue
		}

		pts := make([]geo.Point, 0, len(pl.Points))
		for _, sp := range pl.Points {
			pts = append(pts, geo.Point{Lat: sp.Y, Lon: sp.X})
		}
		if len(pts) == 0 {
			continue
		}

		distance := -1.0
		if i, ok := idx[FieldDistance]; ok {
			if v, err := parseAttr(shape.ReadAttribute(n, i)); err == nil {
				distance = v
			}
		}
		var duration float64
		if i, ok := idx[FieldDuration]; ok {
			if v, err := parseAttr(shape.ReadAttribute(n, i)); err == nil {
				duration = v
			}
		}
		var desc string
		if i, ok := idx[FieldDescription]; ok {
			desc = strings.Trim(shape.ReadAttribute(n, i), "\x00 ")
		}

		legs = append(legs, newLeg(pts, distance, duration, desc))
	}

	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shapes: %w", err)
	}
	if len(legs) == 0 {
		return nil, ErrNoLegs
	}
	return legs, nil
}

func parseAttr(s string) (float64, error) {
	return strconv.ParseFloat(strings.Trim(strings.TrimSpace(s), "\x00"), 64)
}
