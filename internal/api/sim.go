package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"drivesim/pkg/directions"
	"drivesim/pkg/drive"
	"drivesim/pkg/logging"
	"drivesim/pkg/route"
	"drivesim/pkg/session"
)

// Controller is the simulation session the API drives.
type Controller interface {
	Route() *session.Route
	Status() session.Status
	Events() []logging.Event

	Reset(ctx context.Context) error
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Slower()
	Faster()

	FlyToStep(n int) error
	FlyToStart() error
	FlyToEnd() error
}

// SimHandler serves the route, status and simulation control endpoints.
type SimHandler struct {
	ctl Controller
}

// NewSimHandler creates a SimHandler for ctl.
func NewSimHandler(ctl Controller) *SimHandler {
	return &SimHandler{ctl: ctl}
}

// RouteResponse describes the loaded route.
type RouteResponse struct {
	Start         directions.Place `json:"start"`
	End           directions.Place `json:"end"`
	Steps         []route.Step     `json:"steps"`
	TotalDistance float64          `json:"total_distance_m"`
	TotalDuration float64          `json:"total_duration_s"`
	Vertices      int              `json:"vertices"`
}

// HandleRoute returns the loaded route and its steps.
// GET /api/route
func (h *SimHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	rt := h.ctl.Route()
	if rt == nil {
		http.Error(w, session.ErrNoRoute.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, RouteResponse{
		Start:         rt.Start,
		End:           rt.End,
		Steps:         rt.Steps,
		TotalDistance: rt.TotalDistance(),
		TotalDuration: rt.TotalDuration(),
		Vertices:      len(rt.Path),
	})
}

// HandleStatus returns the current run status.
// GET /api/status
func (h *SimHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.ctl.Status())
}

// HandleEvents returns the trip events as JSON.
// GET /api/trip/events
func (h *SimHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	events := h.ctl.Events()
	if events == nil {
		events = []logging.Event{}
	}
	writeJSON(w, events)
}

// HandleCommand runs a simulation control command and returns the new status.
// POST /api/sim/{command}
func (h *SimHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := r.PathValue("command")

	var err error
	switch cmd {
	case "reset":
		err = h.ctl.Reset(r.Context())
	case "start":
		err = h.ctl.Start(r.Context())
	case "pause":
		err = h.ctl.Pause()
	case "resume":
		err = h.ctl.Resume()
	case "slower":
		h.ctl.Slower()
	case "faster":
		h.ctl.Faster()
	default:
		http.Error(w, "unknown command: "+cmd, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Debug("Simulation command executed", "command", cmd)
	writeJSON(w, h.ctl.Status())
}

// HandleFlyToStep moves the camera to a route step.
// POST /api/steps/{n}/fly
func (h *SimHandler) HandleFlyToStep(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "invalid step index", http.StatusBadRequest)
		return
	}
	if err := h.ctl.FlyToStep(n); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.ctl.Status())
}

// HandleFlyTo moves the camera to the route start or end.
// POST /api/fly/{target}
func (h *SimHandler) HandleFlyTo(w http.ResponseWriter, r *http.Request) {
	var err error
	switch target := r.PathValue("target"); target {
	case "start":
		err = h.ctl.FlyToStart()
	case "end":
		err = h.ctl.FlyToEnd()
	default:
		http.Error(w, "unknown fly target: "+target, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, h.ctl.Status())
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrStepOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoRoute), errors.Is(err, drive.ErrDestroyed):
		status = http.StatusConflict
	case errors.Is(err, drive.ErrModelLoadFailed):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
