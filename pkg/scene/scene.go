// Package scene hosts the rendered world the drive simulator moves through:
// the vehicle visual, the camera and the frame clock.
package scene

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"drivesim/pkg/drive"
	"drivesim/pkg/geo"
)

// Vehicle is the pose of the placed vehicle visual.
type Vehicle struct {
	Location geo.Point `json:"location"`
	Heading  float64   `json:"heading"`
}

// Frame is an immutable snapshot of the scene taken after a frame signal.
type Frame struct {
	Seq     uint64       `json:"seq"`
	Time    time.Time    `json:"time"`
	Vehicle *Vehicle     `json:"vehicle,omitempty"`
	Model   string       `json:"model,omitempty"`
	Camera  drive.LookAt `json:"camera"`
	Instant bool         `json:"instant"`
}

// Sink receives every frame snapshot. Sinks run on the frame goroutine and
// must not block.
type Sink interface {
	OnFrame(f Frame)
}

// Scene is an in-memory rendering host implementing drive.Renderer.
//
// Frame dispatch and Do share one execution lock, so commands never
// interleave with a frame. Subscribers and sinks run with that lock held
// and must not call Do.
type Scene struct {
	exec sync.Mutex // Serializes frames and commands

	mu      sync.RWMutex
	vehicle *Vehicle
	model   string
	camera  drive.LookAt
	instant bool
	subs    map[drive.Subscription]func()
	order   []drive.Subscription
	nextSub drive.Subscription
	sinks   []Sink
	seq     uint64

	interval time.Duration
	loader   *modelLoader
}

// New creates a scene whose camera starts at initial. Frames are emitted
// every interval once Run is called.
func New(interval time.Duration, initial drive.LookAt) *Scene {
	return &Scene{
		camera:   initial,
		subs:     make(map[drive.Subscription]func()),
		interval: interval,
		loader:   newModelLoader(),
	}
}

// AddSink registers a frame sink.
func (s *Scene) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Run emits frames until ctx is cancelled.
func (s *Scene) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Scene frame loop started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scene frame loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step emits exactly one frame: subscribers first, then sinks.
func (s *Scene) Step() Frame {
	s.exec.Lock()
	defer s.exec.Unlock()

	s.mu.RLock()
	fns := make([]func(), 0, len(s.order))
	for _, id := range s.order {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}

	s.mu.Lock()
	s.seq++
	f := s.snapshot()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.OnFrame(f)
	}
	return f
}

// Do runs fn between frames.
func (s *Scene) Do(fn func()) {
	s.exec.Lock()
	defer s.exec.Unlock()
	fn()
}

// Snapshot returns the current scene state without emitting a frame.
func (s *Scene) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// snapshot requires s.mu.
func (s *Scene) snapshot() Frame {
	f := Frame{
		Seq:     s.seq,
		Time:    time.Now(),
		Camera:  s.camera,
		Instant: s.instant,
	}
	if s.vehicle != nil {
		v := *s.vehicle
		f.Vehicle = &v
		f.Model = s.model
	}
	return f
}

// PreloadVehicleModel validates the model at url without touching scene
// state. It takes no scene lock, so a slow fetch does not hold up frames; a
// later LoadVehicleModel of the same url does no I/O.
func (s *Scene) PreloadVehicleModel(ctx context.Context, url string) error {
	return s.loader.load(ctx, url)
}

// LoadVehicleModel verifies the model at url can be fetched and remembers it
// for the next vehicle placement.
func (s *Scene) LoadVehicleModel(ctx context.Context, url string) error {
	if err := s.loader.load(ctx, url); err != nil {
		return err
	}
	s.mu.Lock()
	s.model = url
	s.mu.Unlock()
	slog.Debug("Vehicle model loaded", "url", url)
	return nil
}

// PlaceVehicle implements drive.Renderer.
func (s *Scene) PlaceVehicle(loc geo.Point, heading float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicle = &Vehicle{Location: loc, Heading: heading}
}

// RemoveVehicle implements drive.Renderer.
func (s *Scene) RemoveVehicle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicle = nil
}

// CameraView implements drive.Renderer.
func (s *Scene) CameraView() drive.LookAt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera
}

// SetCameraView implements drive.Renderer.
func (s *Scene) SetCameraView(la drive.LookAt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = la
}

// SetInstantCameraMotion implements drive.Renderer.
func (s *Scene) SetInstantCameraMotion(instant bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.instant
	s.instant = instant
	return prev
}

// SubscribeFrame implements drive.Renderer. Subscribers are called in
// registration order.
func (s *Scene) SubscribeFrame(fn func()) drive.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = fn
	s.order = append(s.order, s.nextSub)
	return s.nextSub
}

// Unsubscribe implements drive.Renderer. Unknown subscriptions are ignored.
func (s *Scene) Unsubscribe(sub drive.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	for i, id := range s.order {
		if id == sub {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

var _ drive.Renderer = (*Scene)(nil)
