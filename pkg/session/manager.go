// Package session controls a drive simulation run: it owns the current
// simulator for a route and exposes the user-facing commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivesim/pkg/drive"
	"drivesim/pkg/geo"
	"drivesim/pkg/logging"
)

var (
	// ErrNoRoute is returned when a command needs a route and none is loaded.
	ErrNoRoute = errors.New("no route loaded")
	// ErrStepOutOfRange is returned by FlyToStep for an unknown step.
	ErrStepOutOfRange = errors.New("step out of range")
)

// Host is the scene a Manager drives. Do must run fn between frames.
// PreloadVehicleModel runs outside Do and must make the following
// LoadVehicleModel of the same url cheap.
type Host interface {
	drive.Renderer
	Do(fn func())
	PreloadVehicleModel(ctx context.Context, url string) error
}

// Options configures a Manager.
type Options struct {
	TickDuration time.Duration
	InitialSpeed float64
	MinSpeed     float64 // Slower stops halving at or below this
	MaxSpeed     float64 // Faster stops doubling at or above this
	ModelURL     string
	Camera       *drive.CameraPolicy

	// OnArrive runs on the frame goroutine after the vehicle reaches the end.
	// It must not issue Manager commands.
	OnArrive func(Status)
}

// Status is a snapshot of the current run.
type Status struct {
	RunID           string      `json:"run_id,omitempty"`
	State           drive.State `json:"state"`
	Finished        bool        `json:"finished"`
	TotalTime       float64     `json:"total_time_s"`
	TotalTimeText   string      `json:"total_time"`
	TotalDistance   float64     `json:"total_distance_m"`
	DistanceKm      int         `json:"distance_km"`
	Speed           float64     `json:"speed"`
	SpeedText       string      `json:"speed_text"`
	CurrentSpeed    float64     `json:"current_speed_mps"`
	Location        geo.Point   `json:"location"`
	Heading         float64     `json:"heading"`
	PathIndex       int         `json:"path_index"`
	Step            int         `json:"step"`
	HighlightedStep int         `json:"highlighted_step"`
}

// Manager owns the simulator of the loaded route. Commands are serialized
// through the host; Status and Events may be called from any goroutine.
type Manager struct {
	host  Host
	route *Route
	opts  Options

	// Only touched inside host.Do or simulator callbacks
	sim *drive.Simulator

	mu          sync.RWMutex
	status      Status
	highlighted int
	events      []logging.Event
}

// NewManager creates a manager for rt. No simulator exists until Reset or Start.
func NewManager(host Host, rt *Route, opts Options) *Manager {
	if opts.InitialSpeed <= 0 {
		opts.InitialSpeed = 1
	}
	if opts.MinSpeed <= 0 {
		opts.MinSpeed = 0.125
	}
	if opts.MaxSpeed <= 0 {
		opts.MaxSpeed = 128000
	}
	m := &Manager{
		host:        host,
		route:       rt,
		opts:        opts,
		highlighted: -1,
	}
	m.status = Status{
		State:           drive.StateIdle,
		Speed:           opts.InitialSpeed,
		SpeedText:       SpeedText(opts.InitialSpeed),
		TotalTimeText:   FormatTime(0),
		Step:            -1,
		HighlightedStep: -1,
	}
	return m
}

// Route returns the loaded route, or nil.
func (m *Manager) Route() *Route {
	return m.route
}

// Reset destroys any current simulator and creates a fresh one at the
// start of the route.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.preload(ctx); err != nil {
		return err
	}
	var err error
	m.host.Do(func() { err = m.reset(ctx) })
	return err
}

// preload fetches the vehicle model before any frame lock is taken.
func (m *Manager) preload(ctx context.Context) error {
	if m.route == nil {
		return ErrNoRoute
	}
	if err := m.host.PreloadVehicleModel(ctx, m.opts.ModelURL); err != nil {
		return fmt.Errorf("create simulator: %w: %w", drive.ErrModelLoadFailed, err)
	}
	return nil
}

func (m *Manager) reset(ctx context.Context) error {
	if m.route == nil {
		return ErrNoRoute
	}
	if m.sim != nil {
		m.sim.Destroy()
		m.sim = nil
	}

	runID := uuid.NewString()
	sim, err := drive.New(ctx, m.host, m.route.Path, drive.Options{
		OnTick:        m.refresh,
		OnStepChanged: m.stepChanged,
		OnFinish:      m.finished,
		InitialSpeed:  m.opts.InitialSpeed,
		TickDuration:  m.opts.TickDuration,
		ModelURL:      m.opts.ModelURL,
		Camera:        m.opts.Camera,
	})
	if err != nil {
		return fmt.Errorf("create simulator: %w", err)
	}
	m.sim = sim

	m.mu.Lock()
	m.status.RunID = runID
	m.highlighted = -1
	m.mu.Unlock()

	m.refresh()
	m.addEvent("reset", "Simulation reset", "Run "+runID)
	slog.Info("Simulation reset", "run_id", runID, "vertices", len(m.route.Path))
	return nil
}

// Start starts the simulation, resetting first when no live simulator exists.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.preload(ctx); err != nil {
		return err
	}
	var err error
	m.host.Do(func() {
		if m.sim == nil || m.sim.State() == drive.StateDestroyed {
			if err = m.reset(ctx); err != nil {
				return
			}
		}
		if m.sim.State() == drive.StateRunning {
			return
		}
		if err = m.sim.Start(); err != nil {
			return
		}
		m.refresh()
		m.addEvent("start", "Simulation started", "Speed "+SpeedText(m.sim.Speed()))
	})
	return err
}

// Pause stops the simulation clock. It is a no-op without a simulator.
func (m *Manager) Pause() error {
	var err error
	m.host.Do(func() {
		if m.sim == nil {
			return
		}
		wasRunning := m.sim.State() == drive.StateRunning
		if err = m.sim.Stop(); err != nil {
			return
		}
		m.refresh()
		if wasRunning {
			m.addEvent("pause", "Simulation paused", FormatTime(m.sim.TotalTime()))
		}
	})
	return err
}

// Resume restarts a paused simulation. It is a no-op without a simulator.
func (m *Manager) Resume() error {
	var err error
	m.host.Do(func() {
		if m.sim == nil {
			return
		}
		wasRunning := m.sim.State() == drive.StateRunning
		if err = m.sim.Start(); err != nil {
			return
		}
		m.refresh()
		if !wasRunning {
			m.addEvent("resume", "Simulation resumed", FormatTime(m.sim.TotalTime()))
		}
	})
	return err
}

// Slower halves the speed multiplier while it is above the minimum.
func (m *Manager) Slower() {
	m.host.Do(func() {
		if m.sim != nil && m.sim.Speed() > m.opts.MinSpeed {
			m.sim.SetSpeed(m.sim.Speed() / 2)
			m.refresh()
		}
	})
}

// Faster doubles the speed multiplier while it is below the maximum.
func (m *Manager) Faster() {
	m.host.Do(func() {
		if m.sim != nil && m.sim.Speed() < m.opts.MaxSpeed {
			m.sim.SetSpeed(m.sim.Speed() * 2)
			m.refresh()
		}
	})
}

// FlyToStep points the camera down the road at step n and highlights it.
func (m *Manager) FlyToStep(n int) error {
	if m.route == nil {
		return ErrNoRoute
	}
	if n < 0 || n >= len(m.route.Steps) {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, n)
	}
	step := m.route.Steps[n]

	// The final step may begin on the last vertex
	heading := 0.0
	if next := step.PathIndex + 1; next < len(m.route.Path) {
		heading = geo.Bearing(step.Location, m.route.Path[next].Location)
	} else if step.PathIndex > 0 {
		heading = geo.Bearing(m.route.Path[step.PathIndex-1].Location, step.Location)
	}

	m.host.Do(func() {
		m.host.SetCameraView(drive.LookAt{
			Lat:     step.Location.Lat,
			Lon:     step.Location.Lon,
			Heading: heading,
			Tilt:    60,
			Range:   50,
		})
		m.setHighlighted(n)
	})
	return nil
}

// FlyToStart looks straight down at the route start and clears the highlight.
func (m *Manager) FlyToStart() error {
	if m.route == nil {
		return ErrNoRoute
	}
	m.flyTo(m.route.Start.Location)
	return nil
}

// FlyToEnd looks straight down at the route end and clears the highlight.
func (m *Manager) FlyToEnd() error {
	if m.route == nil {
		return ErrNoRoute
	}
	m.flyTo(m.route.End.Location)
	return nil
}

func (m *Manager) flyTo(loc geo.Point) {
	m.host.Do(func() {
		m.host.SetCameraView(drive.LookAt{
			Lat:      loc.Lat,
			Lon:      loc.Lon,
			Altitude: 10,
			Heading:  90,
			Tilt:     0,
			Range:    200,
		})
		m.setHighlighted(-1)
	})
}

// Close destroys the current simulator.
func (m *Manager) Close() {
	m.host.Do(func() {
		if m.sim != nil {
			m.sim.Destroy()
			m.refresh()
		}
	})
}

// Status returns the latest run snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Events returns the trip events recorded so far.
func (m *Manager) Events() []logging.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]logging.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Manager) setHighlighted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highlighted = n
	m.status.HighlightedStep = n
}

// refresh copies simulator state into the status snapshot.
func (m *Manager) refresh() {
	if m.sim == nil {
		return
	}
	s := m.sim
	total := s.TotalTime()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = s.State()
	m.status.Finished = s.Finished()
	m.status.TotalTime = total.Seconds()
	m.status.TotalTimeText = FormatTime(total)
	m.status.TotalDistance = s.TotalDistance()
	m.status.DistanceKm = int(math.Round(s.TotalDistance() / 1000))
	m.status.Speed = s.Speed()
	m.status.SpeedText = SpeedText(s.Speed())
	m.status.CurrentSpeed = s.CurrentSpeed()
	m.status.Location = s.Location()
	m.status.Heading = s.Heading()
	m.status.PathIndex = s.PathIndex()
	m.status.Step = s.CurrentStep()
	m.status.HighlightedStep = m.highlighted
}

func (m *Manager) stepChanged(step int) {
	m.setHighlighted(step)

	desc := ""
	if step >= 0 && step < len(m.route.Steps) {
		desc = m.route.Steps[step].Description
	}
	m.addEvent("step", fmt.Sprintf("Step %d", step+1), desc)
}

func (m *Manager) finished() {
	m.refresh()
	st := m.Status()

	m.addEvent("arrival", fmt.Sprintf("Arrived at %s", m.route.End.Address), "after "+st.TotalTimeText)
	slog.Info("Simulation finished",
		"run_id", st.RunID,
		"time", st.TotalTimeText,
		"distance_km", st.DistanceKm)

	if m.opts.OnArrive != nil {
		m.opts.OnArrive(st)
	}
}

func (m *Manager) addEvent(typ, title, summary string) {
	ev := logging.Event{
		Timestamp: time.Now(),
		Type:      typ,
		Title:     title,
		Summary:   summary,
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()

	logging.LogEvent(&ev)
}

// FormatTime renders a duration as hh:mm, truncating seconds.
func FormatTime(d time.Duration) string {
	m := int(math.Floor(d.Seconds() / 60))
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// SpeedText renders a speed multiplier as "1/4x" below 1 and "8x" otherwise.
func SpeedText(speed float64) string {
	if speed < 1 {
		return fmt.Sprintf("1/%dx", int(math.Floor(1/speed)))
	}
	return fmt.Sprintf("%dx", int(math.Floor(speed)))
}
