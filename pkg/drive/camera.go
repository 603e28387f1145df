package drive

import (
	"math"

	"drivesim/pkg/geo"
)

// CameraPolicy decides chase-camera framing from the distance covered and
// ramps the simulation speed on long drives.
type CameraPolicy struct {
	StartZone float64 // Meters; close framing at or below
	EndZone   float64 // Meters; close framing at or above
	FarZone   float64 // Meters; far framing at or above

	CloseRange  float64
	CruiseRange float64
	FarRange    float64

	CloseSpeed     float64
	CruiseRamp     float64
	CruiseSpeedCap float64
	FarRamp        float64
	FarSpeedCap    float64

	Tilt      float64
	Easing    float64 // Fraction of the range gap closed per frame
	MaxTurn   float64 // Degrees of heading change per frame
	AutoSpeed bool
}

// DefaultCameraPolicy returns the stock framing used for a long highway drive.
func DefaultCameraPolicy() CameraPolicy {
	return CameraPolicy{
		StartZone:      1000,
		EndZone:        566000,
		FarZone:        100000,
		CloseRange:     100,
		CruiseRange:    5000,
		FarRange:       50000,
		CloseSpeed:     8,
		CruiseRamp:     5,
		CruiseSpeedCap: 256,
		FarRamp:        10,
		FarSpeedCap:    800,
		Tilt:           60,
		Easing:         0.1,
		MaxTurn:        1,
		AutoSpeed:      true,
	}
}

// Target returns the desired camera range and the speed multiplier to use
// from now on. currentRange is returned unchanged when no zone applies.
func (p *CameraPolicy) Target(totalDistance, speed, currentRange float64) (desiredRange, newSpeed float64) {
	desiredRange, newSpeed = currentRange, speed

	switch {
	case totalDistance >= p.EndZone, totalDistance <= p.StartZone:
		desiredRange, newSpeed = p.CloseRange, p.CloseSpeed
	case totalDistance >= p.FarZone && speed < p.FarSpeedCap:
		desiredRange, newSpeed = p.FarRange, speed+p.FarRamp
	case totalDistance >= p.StartZone && speed < p.CruiseSpeedCap:
		desiredRange, newSpeed = p.CruiseRange, speed+p.CruiseRamp
	}

	if !p.AutoSpeed {
		newSpeed = speed
	}
	return desiredRange, newSpeed
}

// TurnToward rotates current toward desired by at most MaxTurn degrees,
// along the shorter direction. Differences under MaxTurn snap to desired.
func (p *CameraPolicy) TurnToward(current, desired float64) float64 {
	d := geo.NormalizeAngle(desired - current)
	if math.Abs(d) < p.MaxTurn {
		return geo.NormalizeHeading(desired)
	}
	if d < 0 {
		return geo.NormalizeHeading(current - p.MaxTurn)
	}
	return geo.NormalizeHeading(current + p.MaxTurn)
}

// Ease moves current a fixed fraction of the way to desired.
func (p *CameraPolicy) Ease(current, desired float64) float64 {
	return current + (desired-current)*p.Easing
}

// Next computes the camera pose for a vehicle at loc facing heading, and the
// resulting speed multiplier.
func (p *CameraPolicy) Next(cur LookAt, loc geo.Point, heading, totalDistance, speed float64) (LookAt, float64) {
	desiredRange, newSpeed := p.Target(totalDistance, speed, cur.Range)
	return LookAt{
		Lat:     loc.Lat,
		Lon:     loc.Lon,
		Heading: p.TurnToward(cur.Heading, heading),
		Tilt:    p.Tilt,
		Range:   p.Ease(cur.Range, desiredRange),
	}, newSpeed
}
