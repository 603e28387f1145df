package drive

// State is the lifecycle state of a Simulator.
type State string

const (
	// StateIdle means constructed but never started.
	StateIdle State = "idle"
	// StateRunning means frame signals advance the simulation.
	StateRunning State = "running"
	// StatePaused means stopped and resumable.
	StatePaused State = "paused"
	// StateDestroyed is terminal; the vehicle visual is gone.
	StateDestroyed State = "destroyed"
)
