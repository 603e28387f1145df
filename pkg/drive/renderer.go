// Package drive simulates a vehicle driving along a route path, one fixed
// tick of simulated time per rendered frame, with a chase camera whose zoom
// and simulation speed adapt to the distance covered.
package drive

import (
	"context"
	"errors"

	"drivesim/pkg/geo"
)

var (
	// ErrInsufficientPath is returned when a path has fewer than two vertices.
	ErrInsufficientPath = errors.New("insufficient path data")
	// ErrInvalidPath is returned when a segment distance or duration is
	// negative or not finite.
	ErrInvalidPath = errors.New("invalid path data")
	// ErrModelLoadFailed is returned when the vehicle model cannot be loaded.
	ErrModelLoadFailed = errors.New("vehicle model load failed")
	// ErrDestroyed is returned by lifecycle calls on a destroyed simulator.
	ErrDestroyed = errors.New("simulator destroyed")
)

// LookAt is a camera pose: the target location plus heading, tilt and range.
type LookAt struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"` // Degrees true
	Tilt     float64 `json:"tilt"`    // Degrees from straight down
	Range    float64 `json:"range"`   // Meters from target
}

// Subscription identifies a frame signal subscription.
type Subscription uint64

// Renderer is the rendering host the simulator drives.
type Renderer interface {
	// LoadVehicleModel loads the vehicle visual from url.
	LoadVehicleModel(ctx context.Context, url string) error
	// PlaceVehicle positions the vehicle visual.
	PlaceVehicle(loc geo.Point, heading float64)
	// RemoveVehicle drops the vehicle visual from the scene.
	RemoveVehicle()
	// CameraView returns the current camera pose.
	CameraView() LookAt
	// SetCameraView moves the camera.
	SetCameraView(la LookAt)
	// SetInstantCameraMotion toggles teleporting camera moves and returns the previous mode.
	SetInstantCameraMotion(instant bool) bool
	// SubscribeFrame registers fn to be called once per rendered frame.
	SubscribeFrame(fn func()) Subscription
	// Unsubscribe removes a frame subscription.
	Unsubscribe(sub Subscription)
}
