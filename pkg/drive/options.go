package drive

import "time"

// DefaultTickDuration is the simulated time advanced per frame at 1x speed.
const DefaultTickDuration = 100 * time.Millisecond

// Options configures a Simulator. Zero values fall back to defaults.
type Options struct {
	OnTick        func()
	OnStepChanged func(step int)
	OnFinish      func()

	InitialSpeed float64       // Simulated seconds per wall second; default 1
	TickDuration time.Duration // Default DefaultTickDuration
	ModelURL     string
	Camera       *CameraPolicy // Default DefaultCameraPolicy()
}

func (o Options) withDefaults() Options {
	if o.InitialSpeed <= 0 {
		o.InitialSpeed = 1
	}
	if o.TickDuration <= 0 {
		o.TickDuration = DefaultTickDuration
	}
	if o.Camera == nil {
		p := DefaultCameraPolicy()
		o.Camera = &p
	}
	return o
}
