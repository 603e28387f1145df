package directions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"drivesim/pkg/cache"
	"drivesim/pkg/config"
	"drivesim/pkg/geo"
	"drivesim/pkg/route"
)

// ORS resolves routes with the OpenRouteService geocode and directions APIs.
// It is safe for concurrent use.
type ORS struct {
	client   *http.Client
	apiKey   string
	baseURL  string
	profile  string
	country  string
	attempts int
	backoff  time.Duration
	geocodes cache.Cacher // Optional
}

// NewORS creates an OpenRouteService provider from cfg.
func NewORS(cfg *config.DirectionsConfig) (*ORS, error) {
	if cfg.Key == "" {
		return nil, errors.New("ORS api key is empty")
	}

	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	return &ORS{
		client:   &http.Client{Timeout: time.Duration(cfg.Timeout)},
		apiKey:   cfg.Key,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		profile:  cfg.Profile,
		country:  cfg.Country,
		attempts: attempts,
		backoff:  200 * time.Millisecond,
	}, nil
}

// SetCache enables caching of geocode results.
func (o *ORS) SetCache(c cache.Cacher) {
	o.geocodes = c
}

// Route geocodes both addresses and returns one leg per ORS instruction.
func (o *ORS) Route(ctx context.Context, from, to string) (*Result, error) {
	start, err := o.resolve(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("resolve origin: %w", err)
	}
	end, err := o.resolve(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	legs, err := o.directions(ctx, start.Location, end.Location)
	if err != nil {
		return nil, err
	}

	slog.Info("Route resolved",
		"from", start.Address,
		"to", end.Address,
		"steps", len(legs))

	return &Result{Start: start, End: end, Legs: legs}, nil
}

// resolve accepts either a "lat,lon" pair or an address to geocode.
func (o *ORS) resolve(ctx context.Context, s string) (Place, error) {
	norm := strings.Join(strings.Fields(s), " ")
	if norm == "" {
		return Place{}, errors.New("address must be non-empty")
	}
	if p, ok := parseLatLon(norm); ok {
		return Place{Address: norm, Location: p}, nil
	}
	key := "geocode:" + o.country + ":" + strings.ToLower(norm)
	if o.geocodes != nil {
		if val, hit := o.geocodes.GetCache(ctx, key); hit {
			var p Place
			if err := json.Unmarshal(val, &p); err == nil {
				slog.Debug("Geocode cache hit", "address", norm)
				return p, nil
			}
		}
	}

	p, err := o.geocode(ctx, norm)
	if err != nil {
		return Place{}, err
	}
	if o.geocodes != nil {
		if val, err := json.Marshal(p); err == nil {
			if err := o.geocodes.SetCache(ctx, key, val); err != nil {
				slog.Warn("Failed to cache geocode", "address", norm, "error", err)
			}
		}
	}
	return p, nil
}

func parseLatLon(s string) (geo.Point, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lon: lon}, true
}

func (o *ORS) geocode(ctx context.Context, address string) (Place, error) {
	endpoint := o.baseURL + "/geocode/search"

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := o.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", address)
		if o.country != "" {
			q.Set("boundary.country", o.country)
		}
		q.Set("size", "1")
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return Place{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Place{}, fmt.Errorf("read geocode response: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return Place{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(fc.Features) == 0 {
		return Place{}, fmt.Errorf("no geocode results for %q: %w", address, ErrNoRoute)
	}

	f := fc.Features[0]
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return Place{}, fmt.Errorf("invalid geocode geometry %q for %q", f.Geometry.GeoJSONType(), address)
	}

	return Place{
		Address:  f.Properties.MustString("label", address),
		Location: geo.FromOrb(pt),
	}, nil
}

type orsStep struct {
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	WayPoints   []int   `json:"way_points"`
}

type orsSegment struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Steps    []orsStep `json:"steps"`
}

func (o *ORS) directions(ctx context.Context, from, to geo.Point) ([]route.Leg, error) {
	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.profile)

	payload, err := json.Marshal(map[string]any{
		"coordinates":  [][2]float64{{from.Lon, from.Lat}, {to.Lon, to.Lat}},
		"instructions": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal directions request: %w", err)
	}

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read directions response: %w", err)
	}
	return parseDirections(body)
}

// parseDirections converts an ORS GeoJSON directions response into legs.
func parseDirections(body []byte) ([]route.Leg, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode directions response: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, ErrNoRoute
	}

	f := fc.Features[0]
	ls, ok := f.Geometry.(orb.LineString)
	if !ok || len(ls) == 0 {
		return nil, fmt.Errorf("directions geometry: %w", ErrNoRoute)
	}

	// Properties arrive as generic maps; round-trip them into typed segments
	raw, err := json.Marshal(f.Properties["segments"])
	if err != nil {
		return nil, fmt.Errorf("directions segments: %w", err)
	}
	var segments []orsSegment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, fmt.Errorf("directions segments: %w", err)
	}

	var legs []route.Leg
	for _, seg := range segments {
		for _, st := range seg.Steps {
			if len(st.WayPoints) != 2 {
				continue
			}
			a, b := st.WayPoints[0], st.WayPoints[1]
			if a < 0 || b < a || b >= len(ls) {
				return nil, fmt.Errorf("step %q way_points [%d,%d] out of range", st.Instruction, a, b)
			}

			pts := make([]geo.Point, 0, b-a+1)
			for _, c := range ls[a : b+1] {
				pts = append(pts, geo.FromOrb(c))
			}
			legs = append(legs, route.Leg{
				Start:           pts[0],
				End:             pts[len(pts)-1],
				Points:          pts,
				DistanceMeters:  st.Distance,
				DurationSeconds: st.Duration,
				Description:     st.Instruction,
			})
		}
	}

	if len(legs) == 0 {
		return nil, ErrNoRoute
	}
	return legs, nil
}
