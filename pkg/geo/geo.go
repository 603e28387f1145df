package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point represents a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orb returns the point as an orb.Point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb.Point (lon, lat order) into a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.Orb(), p2.Orb())
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees [0, 360).
func Bearing(p1, p2 Point) float64 {
	return NormalizeHeading(orbgeo.Bearing(p1.Orb(), p2.Orb()))
}

// DestinationPoint calculates the destination point from a start point, given distance (in meters) and bearing (in degrees).
func DestinationPoint(start Point, distMeters, bearing float64) Point {
	return FromOrb(orbgeo.PointAtBearingAndDistance(start.Orb(), bearing, distMeters))
}

// Interpolate returns the point a fraction f of the way from p1 to p2,
// interpolating latitude and longitude linearly. f is clamped to [0, 1].
func Interpolate(p1, p2 Point, f float64) Point {
	f = math.Max(0, math.Min(1, f))
	return Point{
		Lat: p1.Lat + (p2.Lat-p1.Lat)*f,
		Lon: p1.Lon + (p2.Lon-p1.Lon)*f,
	}
}

// NormalizeAngle normalizes an angle difference to the range [-180, 180).
func NormalizeAngle(angleDeg float64) float64 {
	a := math.Mod(angleDeg+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// NormalizeHeading wraps a heading into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// LineLength returns the Haversine length of a polyline in meters.
func LineLength(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += Distance(pts[i-1], pts[i])
	}
	return total
}
