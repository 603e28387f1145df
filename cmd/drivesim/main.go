package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"drivesim/internal/api"
	"drivesim/pkg/cache"
	"drivesim/pkg/config"
	"drivesim/pkg/directions"
	"drivesim/pkg/drive"
	"drivesim/pkg/logging"
	"drivesim/pkg/route"
	"drivesim/pkg/scene"
	"drivesim/pkg/session"
	"drivesim/pkg/version"
)

var (
	configPath = flag.String("config", "configs/drivesim.yaml", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (using environment variables)")
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("drivesim started", "version", version.Version, "source", cfg.Route.Source)

	rt, err := loadRoute(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load route: %w", err)
	}
	slog.Info("Route loaded",
		"from", rt.Start.Address,
		"to", rt.End.Address,
		"steps", len(rt.Steps),
		"distance_km", rt.TotalDistance()/1000)

	policy := cfg.Camera.Policy()
	sc := scene.New(time.Duration(cfg.Sim.FrameInterval), drive.LookAt{
		Lat:     rt.Start.Location.Lat,
		Lon:     rt.Start.Location.Lon,
		Heading: 90,
		Range:   policy.CruiseRange,
	})

	mgr := session.NewManager(sc, rt, session.Options{
		TickDuration: time.Duration(cfg.Sim.Tick),
		InitialSpeed: cfg.Sim.InitialSpeed,
		MinSpeed:     cfg.Sim.MinSpeed,
		MaxSpeed:     cfg.Sim.MaxSpeed,
		ModelURL:     cfg.Sim.ModelURL,
		Camera:       &policy,
		OnArrive: func(st session.Status) {
			slog.Info("Arrived", "destination", rt.End.Address, "after", st.TotalTimeText)
		},
	})
	defer mgr.Close()

	hub := api.NewStreamHub()
	defer hub.Close()
	sc.AddSink(hub)

	go func() {
		if err := sc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Scene loop failed", "error", err)
		}
	}()

	return runServer(ctx, cfg, mgr, hub)
}

// loadRoute builds the route from the configured source.
func loadRoute(ctx context.Context, cfg *config.Config) (*session.Route, error) {
	switch cfg.Route.Source {
	case config.SourceORS:
		provider, closeCache, err := newProvider(ctx, &cfg.Directions)
		if err != nil {
			return nil, err
		}
		defer closeCache()
		res, err := provider.Route(ctx, cfg.Route.From, cfg.Route.To)
		if err != nil {
			return nil, err
		}
		return session.NewRoute(res)

	case config.SourceGeoJSON, config.SourceShapefile:
		var legs []route.Leg
		var err error
		if cfg.Route.Source == config.SourceGeoJSON {
			legs, err = route.LoadGeoJSON(cfg.Route.File)
		} else {
			legs, err = route.LoadShapefile(cfg.Route.File)
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(cfg.Route.File), filepath.Ext(cfg.Route.File))
		return session.RouteFromLegs(legs, name+" start", name+" end")
	}
	return nil, fmt.Errorf("unknown route source %q", cfg.Route.Source)
}

// newProvider builds the ORS adapter with the geocode cache attached.
// A cache that cannot be opened only disables caching.
func newProvider(ctx context.Context, cfg *config.DirectionsConfig) (*directions.ORS, func(), error) {
	provider, err := directions.NewORS(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache == "" {
		return provider, func() {}, nil
	}

	c, err := cache.Open(cfg.Cache)
	if err != nil {
		slog.Warn("Geocode cache unavailable", "path", cfg.Cache, "error", err)
		return provider, func() {}, nil
	}
	if ttl := time.Duration(cfg.CacheTTL); ttl > 0 {
		if n, err := c.Prune(ctx, ttl); err != nil {
			slog.Warn("Geocode cache prune failed", "error", err)
		} else if n > 0 {
			slog.Debug("Pruned geocode cache", "removed", n)
		}
	}
	provider.SetCache(c)
	return provider, func() { _ = c.Close() }, nil
}

func runServer(ctx context.Context, cfg *config.Config, mgr *session.Manager, hub *api.StreamHub) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address, api.NewSimHandler(mgr), hub, shutdownFunc)
	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
