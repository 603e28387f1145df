// Package directions turns a pair of addresses into driveable route legs.
package directions

import (
	"context"
	"errors"

	"drivesim/pkg/geo"
	"drivesim/pkg/route"
)

// ErrNoRoute is returned when the provider finds no route between the places.
var ErrNoRoute = errors.New("no route found")

// Place is a resolved endpoint of a route.
type Place struct {
	Address  string    `json:"address"`
	Location geo.Point `json:"location"`
}

// Result is a routed trip: its endpoints and one leg per driving instruction.
type Result struct {
	Start Place       `json:"start"`
	End   Place       `json:"end"`
	Legs  []route.Leg `json:"legs"`
}

// Provider resolves a driving route between two free-form addresses.
type Provider interface {
	Route(ctx context.Context, from, to string) (*Result, error)
}
