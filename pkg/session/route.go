package session

import (
	"fmt"

	"drivesim/pkg/directions"
	"drivesim/pkg/route"
)

// Route is a built, driveable route with its display endpoints.
type Route struct {
	Start directions.Place `json:"start"`
	End   directions.Place `json:"end"`
	Path  route.Path       `json:"-"`
	Steps []route.Step     `json:"steps"`
}

// NewRoute builds the path of a directions result.
func NewRoute(res *directions.Result) (*Route, error) {
	path, steps, err := route.Build(res.Legs)
	if err != nil {
		return nil, fmt.Errorf("build route: %w", err)
	}
	return &Route{Start: res.Start, End: res.End, Path: path, Steps: steps}, nil
}

// RouteFromLegs builds a route from file-sourced legs. The endpoints are
// the first and last path vertices, labelled with the given names.
func RouteFromLegs(legs []route.Leg, startName, endName string) (*Route, error) {
	path, steps, err := route.Build(legs)
	if err != nil {
		return nil, fmt.Errorf("build route: %w", err)
	}
	return &Route{
		Start: directions.Place{Address: startName, Location: path[0].Location},
		End:   directions.Place{Address: endName, Location: path[len(path)-1].Location},
		Path:  path,
		Steps: steps,
	}, nil
}

// TotalDistance returns the path length in meters.
func (r *Route) TotalDistance() float64 { return r.Path.TotalDistance() }

// TotalDuration returns the path duration in seconds at 1x speed.
func (r *Route) TotalDuration() float64 { return r.Path.TotalDuration() }
