// Command routeconv writes a route in the GeoJSON leg format, either
// converted from an ESRI shapefile or fetched from OpenRouteService.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"drivesim/pkg/cache"
	"drivesim/pkg/config"
	"drivesim/pkg/directions"
	"drivesim/pkg/route"
)

func main() {
	inputPath := flag.String("input", "", "Path to input .shp file")
	from := flag.String("from", "", "Origin address (fetches the route from ORS)")
	to := flag.String("to", "", "Destination address (fetches the route from ORS)")
	configPath := flag.String("config", "configs/drivesim.yaml", "Config file with directions settings")
	outputPath := flag.String("output", "", "Path to output .geojson file")
	flag.Parse()

	if *outputPath == "" || (*inputPath == "") == (*from == "" || *to == "") {
		flag.Usage()
		log.Fatal("An output path and either -input or both -from and -to are required")
	}

	var legs []route.Leg
	var err error
	if *inputPath != "" {
		legs, err = route.LoadShapefile(*inputPath)
	} else {
		_ = godotenv.Load()
		legs, err = fetch(*configPath, *from, *to)
	}
	if err != nil {
		log.Fatal(err)
	}

	if err := run(legs, *outputPath); err != nil {
		log.Fatal(err)
	}
}

func fetch(configPath, from, to string) ([]route.Leg, error) {
	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if cfg.Directions.Key == "" {
		cfg.Directions.Key = os.Getenv("ORS_API_KEY")
	}

	provider, err := directions.NewORS(&cfg.Directions)
	if err != nil {
		return nil, err
	}
	if cfg.Directions.Cache != "" {
		c, err := cache.Open(cfg.Directions.Cache)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		provider.SetCache(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := provider.Route(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch route: %w", err)
	}
	return res.Legs, nil
}

func run(legs []route.Leg, outputPath string) error {
	// Refuse routes the simulator could not drive
	path, _, err := route.Build(legs)
	if err != nil {
		return fmt.Errorf("invalid route: %w", err)
	}
	if err := route.WriteGeoJSON(outputPath, legs); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Successfully wrote %d legs (%.1f km) to %s\n", len(legs), path.TotalDistance()/1000, outputPath)
	return nil
}
