package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"drivesim/pkg/version"
)

// NewServer creates and configures the HTTP server.
// shutdown is called asynchronously by POST /api/shutdown.
func NewServer(addr string, sim *SimHandler, stream *StreamHub, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Logs
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/events/latest", handleLatestEvent)

	// 3. Route and simulation
	mux.HandleFunc("GET /api/route", sim.HandleRoute)
	mux.HandleFunc("GET /api/status", sim.HandleStatus)
	mux.HandleFunc("GET /api/trip/events", sim.HandleEvents)
	mux.HandleFunc("POST /api/sim/{command}", sim.HandleCommand)
	mux.HandleFunc("POST /api/steps/{n}/fly", sim.HandleFlyToStep)
	mux.HandleFunc("POST /api/fly/{target}", sim.HandleFlyTo)

	// 4. Frame stream
	if stream != nil {
		mux.HandleFunc("GET /api/stream", stream.HandleStream)
	}

	// 5. Shutdown
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": %q}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
