// Package route models a drivable path: route legs as delivered by a
// directions source and the flattened vertex sequence the simulator walks.
package route

import (
	"errors"
	"fmt"
	"math"

	"drivesim/pkg/geo"
)

var (
	// ErrNoLegs is returned when a route has no legs to build a path from.
	ErrNoLegs = errors.New("route has no legs")
	// ErrEmptyLeg is returned when a leg carries no geometry at all.
	ErrEmptyLeg = errors.New("route leg has no points")
	// ErrInvalidLeg is returned when a leg distance or duration is negative
	// or not finite.
	ErrInvalidLeg = errors.New("route leg has invalid distance or duration")
)

// Leg is one driving instruction of a route together with its geometry.
type Leg struct {
	Start           geo.Point
	End             geo.Point
	Points          []geo.Point // Ordered polyline, including start and end
	DistanceMeters  float64
	DurationSeconds float64
	Description     string
}

// Vertex is one waypoint of a flattened path.
type Vertex struct {
	Location geo.Point `json:"location"`
	Step     int       `json:"step"`
	Distance float64   `json:"distance"` // Meters to the next vertex
	Duration float64   `json:"duration"` // Seconds to the next vertex
}

// Path is the ordered vertex sequence of a route. The last vertex's
// Distance and Duration are always zero.
type Path []Vertex

// TotalDistance returns the summed segment distances in meters.
func (p Path) TotalDistance() float64 {
	var d float64
	for _, v := range p {
		d += v.Distance
	}
	return d
}

// TotalDuration returns the summed segment durations in seconds.
func (p Path) TotalDuration() float64 {
	var d float64
	for _, v := range p {
		d += v.Duration
	}
	return d
}

// Step describes one leg for display and navigation.
type Step struct {
	Index           int       `json:"index"`
	Location        geo.Point `json:"location"`
	Description     string    `json:"description"`
	DistanceMeters  float64   `json:"distance_m"`
	DurationSeconds float64   `json:"duration_s"`
	PathIndex       int       `json:"path_index"` // First vertex of the leg in the flattened path
}

// Build flattens legs into a Path and the matching Step list.
//
// A leg's trailing point is dropped when the next leg starts on it, so the
// shared point belongs to the step that begins there. Each segment's duration
// is the leg duration scaled by the segment's share of the leg distance;
// legs with zero distance produce zero-duration segments.
func Build(legs []Leg) (Path, []Step, error) {
	if len(legs) == 0 {
		return nil, nil, ErrNoLegs
	}

	var path Path
	steps := make([]Step, 0, len(legs))

	for i := range legs {
		leg := &legs[i]
		pts := legPoints(leg)
		if len(pts) == 0 {
			return nil, nil, fmt.Errorf("leg %d: %w", i, ErrEmptyLeg)
		}
		if !validMeasure(leg.DistanceMeters) || !validMeasure(leg.DurationSeconds) {
			return nil, nil, fmt.Errorf("leg %d (distance %v, duration %v): %w",
				i, leg.DistanceMeters, leg.DurationSeconds, ErrInvalidLeg)
		}

		if i < len(legs)-1 && len(pts) > 1 {
			next := legPoints(&legs[i+1])
			if len(next) > 0 && next[0] == pts[len(pts)-1] {
				pts = pts[:len(pts)-1]
			}
		}

		steps = append(steps, Step{
			Index:           i,
			Location:        pts[0],
			Description:     leg.Description,
			DistanceMeters:  leg.DistanceMeters,
			DurationSeconds: leg.DurationSeconds,
			PathIndex:       len(path),
		})

		for _, p := range pts {
			path = append(path, Vertex{Location: p, Step: i})
		}
	}

	for j := 0; j < len(path)-1; j++ {
		v := &path[j]
		v.Distance = geo.Distance(v.Location, path[j+1].Location)

		leg := &legs[v.Step]
		if leg.DistanceMeters > 0 {
			v.Duration = leg.DurationSeconds * v.Distance / leg.DistanceMeters
		}
	}

	return path, steps, nil
}

func validMeasure(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func legPoints(leg *Leg) []geo.Point {
	if len(leg.Points) > 0 {
		return leg.Points
	}
	if leg.Start == leg.End {
		if leg.Start == (geo.Point{}) {
			return nil
		}
		return []geo.Point{leg.Start}
	}
	return []geo.Point{leg.Start, leg.End}
}
