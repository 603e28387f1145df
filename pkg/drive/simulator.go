package drive

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"drivesim/pkg/geo"
	"drivesim/pkg/route"
)

const noStep = -1

// Simulator advances a vehicle along a path. It is driven by the renderer's
// frame signal and is not safe for concurrent use: every call, including the
// speed setters, must happen on the goroutine that delivers frames.
type Simulator struct {
	renderer Renderer
	path     route.Path
	opts     Options
	camera   *CameraPolicy

	state       State
	finished    bool
	sub         Subscription
	prevInstant bool

	pathIndex       int
	segmentElapsed  float64 // Seconds into the current segment
	distanceBefore  float64 // Meters of fully traversed segments
	segmentDistance float64 // Meters into the current segment
	currentStep     int
	speed           float64

	totalTime     float64
	totalDistance float64
	currentSpeed  float64 // Meters per second
	location      geo.Point
	heading       float64
}

// New loads the vehicle model, places it at the start of path and subscribes
// to the renderer's frame signal. The simulator starts idle.
func New(ctx context.Context, r Renderer, path route.Path, opts Options) (*Simulator, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: %d vertices", ErrInsufficientPath, len(path))
	}
	for i, v := range path[:len(path)-1] {
		if !validMeasure(v.Distance) || !validMeasure(v.Duration) {
			return nil, fmt.Errorf("%w: vertex %d (distance %v, duration %v)",
				ErrInvalidPath, i, v.Distance, v.Duration)
		}
	}
	opts = opts.withDefaults()

	// The last vertex has no outgoing segment
	path = append(route.Path(nil), path...)
	path[len(path)-1].Distance, path[len(path)-1].Duration = 0, 0

	if err := r.LoadVehicleModel(ctx, opts.ModelURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	s := &Simulator{
		renderer:    r,
		path:        path,
		opts:        opts,
		camera:      opts.Camera,
		state:       StateIdle,
		currentStep: noStep,
		speed:       opts.InitialSpeed,
		location:    path[0].Location,
		heading:     geo.Bearing(path[0].Location, path[1].Location),
	}

	r.PlaceVehicle(s.location, s.heading)
	cur := r.CameraView()
	// Frame the start; the speed multiplier is left for the first tick
	desiredRange, _ := s.camera.Target(0, s.speed, cur.Range)
	r.SetCameraView(LookAt{
		Lat:     s.location.Lat,
		Lon:     s.location.Lon,
		Heading: s.camera.TurnToward(cur.Heading, s.heading),
		Tilt:    s.camera.Tilt,
		Range:   s.camera.Ease(cur.Range, desiredRange),
	})

	s.sub = r.SubscribeFrame(s.OnFrame)

	slog.Debug("Drive simulator created", "vertices", len(path), "distance_m", path.TotalDistance())
	return s, nil
}

// Start starts or resumes the simulation clock and runs one tick immediately.
func (s *Simulator) Start() error {
	switch s.state {
	case StateDestroyed:
		slog.Warn("Start called on destroyed simulator")
		return ErrDestroyed
	case StateRunning:
		return nil
	}

	s.prevInstant = s.renderer.SetInstantCameraMotion(true)
	s.state = StateRunning
	slog.Debug("Drive simulator started", "path_index", s.pathIndex, "speed", s.speed)

	s.tick()
	return nil
}

// Stop pauses the simulation clock and restores the camera motion mode.
func (s *Simulator) Stop() error {
	if s.state == StateDestroyed {
		slog.Warn("Stop called on destroyed simulator")
		return ErrDestroyed
	}
	s.stop()
	return nil
}

func (s *Simulator) stop() {
	if s.state != StateRunning {
		return
	}
	s.renderer.SetInstantCameraMotion(s.prevInstant)
	s.state = StatePaused
	slog.Debug("Drive simulator stopped", "path_index", s.pathIndex)
}

// Destroy stops the simulation, removes the vehicle and detaches from the
// frame signal. Calling it again is a no-op.
func (s *Simulator) Destroy() {
	if s.state == StateDestroyed {
		return
	}
	s.stop()
	s.renderer.RemoveVehicle()
	s.renderer.Unsubscribe(s.sub)
	s.state = StateDestroyed
	slog.Debug("Drive simulator destroyed", "finished", s.finished)
}

// OnFrame advances the simulation by one tick while running.
func (s *Simulator) OnFrame() {
	if s.state != StateRunning {
		return
	}
	s.tick()
}

func (s *Simulator) tick() {
	last := len(s.path) - 1
	if s.pathIndex >= last {
		s.stop()
		return
	}

	s.enterStep(s.path[s.pathIndex].Step)

	dt := s.opts.TickDuration.Seconds() * s.speed
	s.totalTime += dt
	s.segmentElapsed += dt

	// Large multipliers may cross several short segments in one tick
	for s.pathIndex < last && s.segmentElapsed >= s.path[s.pathIndex].Duration {
		s.segmentElapsed -= s.path[s.pathIndex].Duration
		s.distanceBefore += s.path[s.pathIndex].Distance
		s.pathIndex++
		if s.pathIndex < last {
			s.enterStep(s.path[s.pathIndex].Step)
		}
	}

	seg := s.path[s.pathIndex]
	fraction := 0.0
	if seg.Duration > 0 {
		fraction = math.Min(1, s.segmentElapsed/seg.Duration)
		s.segmentDistance = seg.Distance * fraction
		s.currentSpeed = seg.Distance / seg.Duration
	} else {
		s.segmentDistance = 0
		s.currentSpeed = 0
	}
	s.totalDistance = s.distanceBefore + s.segmentDistance

	if s.pathIndex >= last {
		s.finish()
		return
	}

	next := s.path[s.pathIndex+1]
	s.location = geo.Interpolate(seg.Location, next.Location, fraction)
	s.heading = geo.Bearing(seg.Location, next.Location)
	s.drive()

	if s.opts.OnTick != nil {
		s.opts.OnTick()
	}
}

func (s *Simulator) enterStep(step int) {
	if step == s.currentStep {
		return
	}
	s.currentStep = step
	if s.opts.OnStepChanged != nil {
		s.opts.OnStepChanged(step)
	}
}

// drive places the vehicle and moves the chase camera behind it.
func (s *Simulator) drive() {
	s.renderer.PlaceVehicle(s.location, s.heading)

	la, speed := s.camera.Next(s.renderer.CameraView(), s.location, s.heading, s.totalDistance, s.speed)
	s.speed = speed
	s.renderer.SetCameraView(la)
}

func (s *Simulator) finish() {
	s.stop()
	s.location = s.path[len(s.path)-1].Location
	s.finished = true
	s.Destroy()
	slog.Debug("Drive simulator finished", "total_time_s", s.totalTime, "distance_m", s.totalDistance)

	if s.opts.OnFinish != nil {
		s.opts.OnFinish()
	}
}

// SetSpeed sets the speed multiplier. Non-positive values are ignored.
func (s *Simulator) SetSpeed(v float64) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		slog.Warn("Ignoring invalid speed multiplier", "speed", v)
		return
	}
	s.speed = v
}

func validMeasure(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// Speed returns the speed multiplier.
func (s *Simulator) Speed() float64 { return s.speed }

// State returns the lifecycle state.
func (s *Simulator) State() State { return s.state }

// Finished reports whether the whole path has been driven.
func (s *Simulator) Finished() bool { return s.finished }

// TotalTime returns the simulated time elapsed.
func (s *Simulator) TotalTime() time.Duration {
	return time.Duration(s.totalTime * float64(time.Second))
}

// TotalDistance returns the distance driven in meters.
func (s *Simulator) TotalDistance() float64 { return s.totalDistance }

// DistanceBeforeSegment returns the meters of fully traversed segments.
func (s *Simulator) DistanceBeforeSegment() float64 { return s.distanceBefore }

// SegmentDistance returns the meters driven within the current segment.
func (s *Simulator) SegmentDistance() float64 { return s.segmentDistance }

// CurrentSpeed returns the speed along the current segment in meters per second.
func (s *Simulator) CurrentSpeed() float64 { return s.currentSpeed }

// Location returns the current vehicle position.
func (s *Simulator) Location() geo.Point { return s.location }

// Heading returns the current vehicle heading in degrees.
func (s *Simulator) Heading() float64 { return s.heading }

// PathIndex returns the index of the vertex at or before the vehicle.
func (s *Simulator) PathIndex() int { return s.pathIndex }

// CurrentStep returns the last step reported, or -1 before the first tick.
func (s *Simulator) CurrentStep() int { return s.currentStep }

// Path returns the path being driven.
func (s *Simulator) Path() route.Path { return s.path }
