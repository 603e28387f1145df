package route

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesim/pkg/geo"
)

var (
	ptA = geo.Point{Lat: 0, Lon: 0}
	ptB = geo.Point{Lat: 0, Lon: 0.001}
	ptC = geo.Point{Lat: 0, Lon: 0.002}
	ptD = geo.Point{Lat: 0, Lon: 0.003}
)

func legOf(duration float64, desc string, pts ...geo.Point) Leg {
	return Leg{
		Start:           pts[0],
		End:             pts[len(pts)-1],
		Points:          pts,
		DistanceMeters:  geo.LineLength(pts),
		DurationSeconds: duration,
		Description:     desc,
	}
}

func TestBuild_SharedBoundaryPoint(t *testing.T) {
	legs := []Leg{
		legOf(20, "Head east", ptA, ptB, ptC),
		legOf(10, "Continue", ptC, ptD),
	}

	path, steps, err := Build(legs)
	require.NoError(t, err)

	require.Len(t, path, 4)
	assert.Equal(t, []int{0, 0, 1, 1}, []int{path[0].Step, path[1].Step, path[2].Step, path[3].Step})
	assert.Equal(t, ptC, path[2].Location)

	// Equal-length segments split the leg duration evenly; B->C belongs to leg 0
	assert.InDelta(t, 10, path[0].Duration, 1e-9)
	assert.InDelta(t, 10, path[1].Duration, 1e-9)
	assert.InDelta(t, 10, path[2].Duration, 1e-9)
	assert.Zero(t, path[3].Duration)
	assert.Zero(t, path[3].Distance)

	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].PathIndex)
	assert.Equal(t, 2, steps[1].PathIndex)
	assert.Equal(t, "Continue", steps[1].Description)
	assert.Equal(t, ptC, steps[1].Location)

	assert.InDelta(t, geo.Distance(ptA, ptD), path.TotalDistance(), 1e-6)
	assert.InDelta(t, 30, path.TotalDuration(), 1e-9)
}

func TestBuild_ZeroDistanceLeg(t *testing.T) {
	legs := []Leg{
		{Start: ptA, End: ptA, Points: []geo.Point{ptA, ptA}, DistanceMeters: 0, DurationSeconds: 30},
		legOf(10, "Go", ptA, ptB),
	}

	path, _, err := Build(legs)
	require.NoError(t, err)

	for i, v := range path {
		if v.Step == 0 {
			assert.Zero(t, v.Duration, "vertex %d", i)
		}
	}
	assert.InDelta(t, 10, path.TotalDuration(), 1e-9)
}

func TestBuild_DisjointLegsKeepAllPoints(t *testing.T) {
	legs := []Leg{
		legOf(10, "", ptA, ptB),
		legOf(10, "", ptC, ptD),
	}

	path, steps, err := Build(legs)
	require.NoError(t, err)
	require.Len(t, path, 4)
	assert.Equal(t, 2, steps[1].PathIndex)
	// The B->C gap is attributed to leg 0, scaled by its share of leg 0 distance
	assert.InDelta(t, 10, path[1].Duration, 1e-6)
}

func TestBuild_StartEndOnly(t *testing.T) {
	path, _, err := Build([]Leg{{Start: ptA, End: ptB, DistanceMeters: 100, DurationSeconds: 5}})
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.InDelta(t, 5*geo.Distance(ptA, ptB)/100, path[0].Duration, 1e-9)
}

func TestBuild_Errors(t *testing.T) {
	_, _, err := Build(nil)
	assert.True(t, errors.Is(err, ErrNoLegs))

	_, _, err = Build([]Leg{legOf(1, "", ptA, ptB), {}})
	assert.True(t, errors.Is(err, ErrEmptyLeg))
}

func TestBuild_RejectsInvalidMeasures(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		duration float64
	}{
		{"negative duration", 100, -60},
		{"negative distance", -1, 10},
		{"nan duration", 100, math.NaN()},
		{"inf distance", math.Inf(1), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := legOf(tt.duration, "", ptB, ptC)
			bad.DistanceMeters = tt.distance

			path, _, err := Build([]Leg{legOf(10, "", ptA, ptB), bad})
			assert.ErrorIs(t, err, ErrInvalidLeg)
			assert.Nil(t, path)
		})
	}
}
