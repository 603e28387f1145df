package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"drivesim/pkg/drive"
)

// Route sources.
const (
	SourceORS       = "ors"
	SourceGeoJSON   = "geojson"
	SourceShapefile = "shapefile"
)

// Config holds the application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Route      RouteConfig      `yaml:"route"`
	Directions DirectionsConfig `yaml:"directions"`
	Sim        SimConfig        `yaml:"sim"`
	Camera     CameraConfig     `yaml:"camera"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
	Events LogSettings `yaml:"events"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// RouteConfig selects where the driven route comes from.
type RouteConfig struct {
	Source string `yaml:"source"` // "ors", "geojson", "shapefile"
	File   string `yaml:"file"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

// DirectionsConfig holds OpenRouteService settings.
type DirectionsConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Key      string   `yaml:"key"`
	Profile  string   `yaml:"profile"`
	Country  string   `yaml:"country"` // Geocoding boundary, ISO alpha-2
	Timeout  Duration `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
	Cache    string   `yaml:"cache"`     // Geocode cache database, empty disables
	CacheTTL Duration `yaml:"cache_ttl"` // Entries older than this are pruned at startup
}

// SimConfig holds drive simulation settings.
type SimConfig struct {
	Tick          Duration `yaml:"tick"`
	FrameInterval Duration `yaml:"frame_interval"`
	InitialSpeed  float64  `yaml:"initial_speed"`
	MinSpeed      float64  `yaml:"min_speed"`
	MaxSpeed      float64  `yaml:"max_speed"`
	ModelURL      string   `yaml:"model_url"`
}

// CameraConfig holds chase camera framing settings.
type CameraConfig struct {
	StartZone      Distance `yaml:"start_zone"`
	EndZone        Distance `yaml:"end_zone"`
	FarZone        Distance `yaml:"far_zone"`
	CloseRange     Distance `yaml:"close_range"`
	CruiseRange    Distance `yaml:"cruise_range"`
	FarRange       Distance `yaml:"far_range"`
	CloseSpeed     float64  `yaml:"close_speed"`
	CruiseRamp     float64  `yaml:"cruise_ramp"`
	CruiseSpeedCap float64  `yaml:"cruise_speed_cap"`
	FarRamp        float64  `yaml:"far_ramp"`
	FarSpeedCap    float64  `yaml:"far_speed_cap"`
	Tilt           float64  `yaml:"tilt"`
	Easing         float64  `yaml:"easing"`
	MaxTurn        float64  `yaml:"max_turn"`
	AutoSpeed      bool     `yaml:"auto_speed"`
}

// Policy converts the settings into a drive.CameraPolicy.
func (c *CameraConfig) Policy() drive.CameraPolicy {
	return drive.CameraPolicy{
		StartZone:      float64(c.StartZone),
		EndZone:        float64(c.EndZone),
		FarZone:        float64(c.FarZone),
		CloseRange:     float64(c.CloseRange),
		CruiseRange:    float64(c.CruiseRange),
		FarRange:       float64(c.FarRange),
		CloseSpeed:     c.CloseSpeed,
		CruiseRamp:     c.CruiseRamp,
		CruiseSpeedCap: c.CruiseSpeedCap,
		FarRamp:        c.FarRamp,
		FarSpeedCap:    c.FarSpeedCap,
		Tilt:           c.Tilt,
		Easing:         c.Easing,
		MaxTurn:        c.MaxTurn,
		AutoSpeed:      c.AutoSpeed,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	p := drive.DefaultCameraPolicy()
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
		},
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Route: RouteConfig{
			Source: SourceORS,
			File:   "data/route.geojson",
			From:   "15 Norwich Way, Ottawa, ON",
			To:     "5068 Centre St, Niagara Falls, ON",
		},
		Directions: DirectionsConfig{
			BaseURL:  "https://api.openrouteservice.org",
			Profile:  "driving-car",
			Country:  "CA",
			Timeout:  Duration(10 * time.Second),
			Retries:  4,
			Cache:    "data/cache/geocode.db",
			CacheTTL: Duration(30 * 24 * time.Hour),
		},
		Sim: SimConfig{
			Tick:          Duration(drive.DefaultTickDuration),
			FrameInterval: Duration(33 * time.Millisecond),
			InitialSpeed:  1,
			MinSpeed:      0.125,
			MaxSpeed:      128000,
			ModelURL:      "data/models/car.gltf",
		},
		Camera: CameraConfig{
			StartZone:      Distance(p.StartZone),
			EndZone:        Distance(p.EndZone),
			FarZone:        Distance(p.FarZone),
			CloseRange:     Distance(p.CloseRange),
			CruiseRange:    Distance(p.CruiseRange),
			FarRange:       Distance(p.FarRange),
			CloseSpeed:     p.CloseSpeed,
			CruiseRamp:     p.CruiseRamp,
			CruiseSpeedCap: p.CruiseSpeedCap,
			FarRamp:        p.FarRamp,
			FarSpeedCap:    p.FarSpeedCap,
			Tilt:           p.Tilt,
			Easing:         p.Easing,
			MaxTurn:        p.MaxTurn,
			AutoSpeed:      p.AutoSpeed,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Secrets come from the environment when the file leaves them empty
	if cfg.Directions.Key == "" {
		cfg.Directions.Key = os.Getenv("ORS_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Route.Source {
	case SourceORS:
		if c.Route.From == "" || c.Route.To == "" {
			return fmt.Errorf("route source %q requires from and to addresses", c.Route.Source)
		}
	case SourceGeoJSON, SourceShapefile:
		if c.Route.File == "" {
			return fmt.Errorf("route source %q requires a file", c.Route.Source)
		}
	default:
		return fmt.Errorf("invalid route source '%s': must be one of ors, geojson, shapefile", c.Route.Source)
	}

	if c.Sim.Tick <= 0 || c.Sim.FrameInterval <= 0 {
		return fmt.Errorf("sim tick and frame_interval must be positive")
	}
	if c.Sim.InitialSpeed <= 0 {
		return fmt.Errorf("sim initial_speed must be positive, got %v", c.Sim.InitialSpeed)
	}
	if c.Sim.MinSpeed <= 0 || c.Sim.MinSpeed >= c.Sim.MaxSpeed {
		return fmt.Errorf("sim speed bounds invalid: min %v, max %v", c.Sim.MinSpeed, c.Sim.MaxSpeed)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# drivesim configuration
# ---------------------
# Supported Units:
#   Duration: ns, us, ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# The ORS API key may be left empty and supplied via ORS_API_KEY.

`)
	data = append(header, data...)

	reSource := regexp.MustCompile(`(?m)^(\s+)source:`)
	data = reSource.ReplaceAll(data, []byte("${1}# Options: ors, geojson, shapefile\n${1}source:"))

	reEasing := regexp.MustCompile(`(?m)^(\s+)easing:`)
	data = reEasing.ReplaceAll(data, []byte("${1}# Fraction of the camera range gap closed per frame\n${1}easing:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
