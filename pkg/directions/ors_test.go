package directions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesim/pkg/cache"
	"drivesim/pkg/config"
	"drivesim/pkg/geo"
)

const directionsBody = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "geometry": {"type": "LineString", "coordinates": [[-79.38,43.65],[-79.39,43.66],[-79.40,43.66],[-79.41,43.67]]},
    "properties": {
      "segments": [{
        "distance": 2500, "duration": 180,
        "steps": [
          {"distance": 1200, "duration": 90, "type": 11, "instruction": "Head north on Bay Street", "way_points": [0, 1]},
          {"distance": 1300, "duration": 90, "type": 1, "instruction": "Turn right onto King Street", "way_points": [1, 3]},
          {"distance": 0, "duration": 0, "type": 10, "instruction": "Arrive at King Street", "way_points": [3, 3]}
        ]
      }]
    }
  }]
}`

func geocodeBody(label string, lon, lat float64) string {
	b, _ := json.Marshal(map[string]any{
		"type": "FeatureCollection",
		"features": []any{map[string]any{
			"type":       "Feature",
			"geometry":   map[string]any{"type": "Point", "coordinates": []float64{lon, lat}},
			"properties": map[string]any{"label": label},
		}},
	})
	return string(b)
}

func newTestORS(t *testing.T, h http.Handler) *ORS {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	o, err := NewORS(&config.DirectionsConfig{
		BaseURL: srv.URL + "/",
		Key:     "test-key",
		Profile: "driving-car",
		Country: "CA",
		Timeout: config.Duration(5 * time.Second),
		Retries: 3,
	})
	require.NoError(t, err)
	o.backoff = time.Millisecond
	return o
}

func TestNewORS_RequiresKey(t *testing.T) {
	_, err := NewORS(&config.DirectionsConfig{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestRoute(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /geocode/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "CA", r.URL.Query().Get("boundary.country"))
		assert.Equal(t, "1", r.URL.Query().Get("size"))
		switch r.URL.Query().Get("text") {
		case "Union Station Toronto":
			_, _ = w.Write([]byte(geocodeBody("Union Station, Toronto, ON", -79.38, 43.65)))
		default:
			_, _ = w.Write([]byte(geocodeBody("King St W, Toronto, ON", -79.41, 43.67)))
		}
	})
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(directionsBody))
	})

	o := newTestORS(t, mux)
	res, err := o.Route(context.Background(), "  Union   Station Toronto ", "King St W")
	require.NoError(t, err)

	assert.Equal(t, "Union Station, Toronto, ON", res.Start.Address)
	assert.Equal(t, geo.Point{Lat: 43.65, Lon: -79.38}, res.Start.Location)
	assert.Equal(t, "King St W, Toronto, ON", res.End.Address)

	coords := gotBody["coordinates"].([]any)
	require.Len(t, coords, 2)
	assert.Equal(t, []any{-79.38, 43.65}, coords[0])

	require.Len(t, res.Legs, 3)
	assert.Equal(t, "Head north on Bay Street", res.Legs[0].Description)
	assert.Len(t, res.Legs[0].Points, 2)
	assert.Len(t, res.Legs[1].Points, 3)
	assert.Equal(t, 1300.0, res.Legs[1].DistanceMeters)
	assert.Equal(t, res.Legs[1].End, res.Legs[2].Start)
	assert.Len(t, res.Legs[2].Points, 1)
}

func TestRoute_LatLonSkipsGeocode(t *testing.T) {
	var geocodes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /geocode/search", func(w http.ResponseWriter, r *http.Request) {
		geocodes.Add(1)
		_, _ = w.Write([]byte(geocodeBody("x", 0, 0)))
	})
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(directionsBody))
	})

	o := newTestORS(t, mux)
	res, err := o.Route(context.Background(), "43.65, -79.38", "43.67,-79.41")
	require.NoError(t, err)
	assert.Equal(t, int32(0), geocodes.Load())
	assert.Equal(t, geo.Point{Lat: 43.67, Lon: -79.41}, res.End.Location)
}

func TestRoute_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(directionsBody))
	})

	o := newTestORS(t, mux)
	res, err := o.Route(context.Background(), "43.65,-79.38", "43.67,-79.41")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, res.Legs, 3)
}

func TestRoute_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	})

	o := newTestORS(t, mux)
	_, err := o.Route(context.Background(), "43.65,-79.38", "43.67,-79.41")
	require.Error(t, err)
	var he *httpStatusError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusForbidden, he.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRoute_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	o := newTestORS(t, mux)
	_, err := o.Route(context.Background(), "43.65,-79.38", "43.67,-79.41")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRoute_NoGeocodeResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /geocode/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	})

	o := newTestORS(t, mux)
	_, err := o.Route(context.Background(), "nowhere at all", "43.67,-79.41")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestParseDirections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		legs    int
	}{
		{name: "valid", body: directionsBody, legs: 3},
		{name: "empty collection", body: `{"type":"FeatureCollection","features":[]}`, wantErr: ErrNoRoute},
		{
			name:    "no steps",
			body:    `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"segments":[]}}]}`,
			wantErr: ErrNoRoute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			legs, err := parseDirections([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, legs, tt.legs)
		})
	}
}

func TestParseDirections_BadWayPoints(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},
"properties":{"segments":[{"steps":[{"instruction":"x","way_points":[0,5]}]}]}}]}`
	_, err := parseDirections([]byte(body))
	assert.Error(t, err)
}

func TestParseLatLon(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"43.65,-79.38", true},
		{"43.65 , -79.38", true},
		{"95,10", false},
		{"Toronto, ON", false},
		{"1,2,3", false},
	}
	for _, tt := range tests {
		_, ok := parseLatLon(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestRoute_GeocodeCache(t *testing.T) {
	var geocodes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /geocode/search", func(w http.ResponseWriter, r *http.Request) {
		geocodes.Add(1)
		_, _ = w.Write([]byte(geocodeBody(r.URL.Query().Get("text"), -79.38, 43.65)))
	})
	mux.HandleFunc("POST /v2/directions/driving-car/geojson", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(directionsBody))
	})

	o := newTestORS(t, mux)
	c, err := cache.Open(filepath.Join(t.TempDir(), "geocode.db"))
	require.NoError(t, err)
	defer c.Close()
	o.SetCache(c)

	for i := 0; i < 2; i++ {
		res, err := o.Route(context.Background(), "Union Station", "CN Tower")
		require.NoError(t, err)
		assert.Equal(t, "CN Tower", res.End.Address)
	}
	assert.Equal(t, int32(2), geocodes.Load())
	n, err := c.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
