package scene

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesim/pkg/drive"
	"drivesim/pkg/geo"
	"drivesim/pkg/route"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingSink) OnFrame(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

const minimalModel = `{"asset":{"version":"2.0"},"scene":0,"scenes":[{"nodes":[0]}],` +
	`"nodes":[{"mesh":0}],"meshes":[{"primitives":[{"attributes":{"POSITION":0}}]}]}`

// glb wraps a JSON chunk in a GLB container.
func glb(jsonChunk string) []byte {
	for len(jsonChunk)%4 != 0 {
		jsonChunk += " "
	}
	buf := make([]byte, 20, 20+len(jsonChunk))
	binary.LittleEndian.PutUint32(buf[0:], glbMagic)
	binary.LittleEndian.PutUint32(buf[4:], 2)
	binary.LittleEndian.PutUint32(buf[8:], uint32(20+len(jsonChunk)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(jsonChunk)))
	binary.LittleEndian.PutUint32(buf[16:], glbChunkJSON)
	return append(buf, jsonChunk...)
}

func writeModel(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "car.gltf")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestStep_OrderAndSnapshot(t *testing.T) {
	s := New(time.Second, drive.LookAt{Range: 1000})
	var calls []string
	s.SubscribeFrame(func() { calls = append(calls, "a") })
	s.SubscribeFrame(func() {
		calls = append(calls, "b")
		s.PlaceVehicle(geo.Point{Lat: 1, Lon: 2}, 90)
	})
	sink := &recordingSink{}
	s.AddSink(sink)

	f := s.Step()
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, uint64(1), f.Seq)
	require.NotNil(t, f.Vehicle)
	assert.Equal(t, 90.0, f.Vehicle.Heading)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, f.Seq, sink.frames[0].Seq)

	// Snapshots are copies
	f.Vehicle.Heading = 0
	assert.Equal(t, 90.0, s.Snapshot().Vehicle.Heading)
}

func TestUnsubscribeDuringFrame(t *testing.T) {
	s := New(time.Second, drive.LookAt{})
	var n int
	var sub drive.Subscription
	sub = s.SubscribeFrame(func() {
		n++
		s.Unsubscribe(sub)
	})
	s.Step()
	s.Step()
	assert.Equal(t, 1, n)

	// Unknown subscriptions are ignored
	s.Unsubscribe(42)
}

func TestCameraAndInstantMotion(t *testing.T) {
	s := New(time.Second, drive.LookAt{Range: 500})
	assert.Equal(t, 500.0, s.CameraView().Range)

	s.SetCameraView(drive.LookAt{Lat: 1, Range: 200})
	assert.Equal(t, 200.0, s.CameraView().Range)

	assert.False(t, s.SetInstantCameraMotion(true))
	assert.True(t, s.SetInstantCameraMotion(false))

	s.PlaceVehicle(geo.Point{}, 0)
	s.RemoveVehicle()
	assert.Nil(t, s.Snapshot().Vehicle)
}

func TestDo_SerializesWithFrames(t *testing.T) {
	s := New(time.Millisecond, drive.LookAt{})
	var inFrame bool
	var overlap bool
	s.SubscribeFrame(func() {
		inFrame = true
		time.Sleep(time.Millisecond)
		inFrame = false
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 20; i++ {
		s.Do(func() {
			if inFrame {
				overlap = true
			}
		})
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, overlap)
}

func TestRun_EmitsFrames(t *testing.T) {
	s := New(5*time.Millisecond, drive.LookAt{})
	sink := &recordingSink{}
	s.AddSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	assert.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestLoadVehicleModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/car.gltf":
			_, _ = w.Write([]byte(minimalModel))
		case "/car.glb":
			_, _ = w.Write(glb(minimalModel))
		case "/error.gltf":
			_, _ = w.Write([]byte("<html>404 not found</html>"))
		case "/empty.gltf":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	truncatedGLB := glb(minimalModel)
	truncatedGLB = truncatedGLB[:len(truncatedGLB)-10]

	tests := []struct {
		name        string
		url         string
		wantErr     bool
		wantEmpty   bool
		wantInvalid bool
	}{
		{name: "local file", url: writeModel(t, minimalModel)},
		{name: "local glb", url: writeModel(t, string(glb(minimalModel)))},
		{name: "bundled car", url: filepath.Join("..", "..", "data", "models", "car.gltf")},
		{name: "empty local file", url: writeModel(t, ""), wantErr: true, wantEmpty: true},
		{name: "html page", url: writeModel(t, "<html>404 not found</html>"), wantErr: true, wantInvalid: true},
		{name: "truncated json", url: writeModel(t, minimalModel[:40]), wantErr: true, wantInvalid: true},
		{name: "truncated glb", url: writeModel(t, string(truncatedGLB)), wantErr: true, wantInvalid: true},
		{name: "no version", url: writeModel(t, `{"asset":{},"scenes":[{}],"nodes":[{"mesh":0}],"meshes":[{}]}`), wantErr: true, wantInvalid: true},
		{name: "no scenes", url: writeModel(t, `{"asset":{"version":"2.0"},"nodes":[{"mesh":0}],"meshes":[{}]}`), wantErr: true, wantInvalid: true},
		{name: "no mesh node", url: writeModel(t, `{"asset":{"version":"2.0"},"scenes":[{}],"nodes":[{}],"meshes":[{}]}`), wantErr: true, wantInvalid: true},
		{name: "dangling mesh", url: writeModel(t, `{"asset":{"version":"2.0"},"scenes":[{}],"nodes":[{"mesh":3}],"meshes":[{}]}`), wantErr: true, wantInvalid: true},
		{name: "directory", url: t.TempDir(), wantErr: true},
		{name: "missing file", url: filepath.Join(t.TempDir(), "nope.glb"), wantErr: true},
		{name: "http ok", url: srv.URL + "/car.gltf"},
		{name: "http glb", url: srv.URL + "/car.glb"},
		{name: "http error page", url: srv.URL + "/error.gltf", wantErr: true, wantInvalid: true},
		{name: "http empty", url: srv.URL + "/empty.gltf", wantErr: true, wantEmpty: true},
		{name: "http 404", url: srv.URL + "/missing.glb", wantErr: true},
		{name: "unset", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(time.Second, drive.LookAt{})
			err := s.LoadVehicleModel(context.Background(), tt.url)
			if !tt.wantErr {
				require.NoError(t, err)
				s.PlaceVehicle(geo.Point{}, 0)
				assert.Equal(t, tt.url, s.Snapshot().Model)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantEmpty, errors.Is(err, ErrEmptyModel))
			assert.Equal(t, tt.wantInvalid, errors.Is(err, ErrInvalidModel))
		})
	}
}

func TestLoadVehicleModel_RemembersLoadedURL(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte(minimalModel))
	}))
	defer srv.Close()

	s := New(time.Second, drive.LookAt{})
	require.NoError(t, s.PreloadVehicleModel(context.Background(), srv.URL+"/car.gltf"))
	assert.Empty(t, s.model, "preload leaves scene state alone")

	require.NoError(t, s.LoadVehicleModel(context.Background(), srv.URL+"/car.gltf"))
	require.NoError(t, s.LoadVehicleModel(context.Background(), srv.URL+"/car.gltf"))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestDrivesSimulator(t *testing.T) {
	legs := []route.Leg{
		{
			Points:          []geo.Point{{Lat: 43.0, Lon: -79.0}, {Lat: 43.01, Lon: -79.0}},
			DistanceMeters:  1112,
			DurationSeconds: 60,
			Description:     "Head north",
		},
		{
			Points:          []geo.Point{{Lat: 43.01, Lon: -79.0}, {Lat: 43.01, Lon: -78.99}},
			DistanceMeters:  813,
			DurationSeconds: 60,
			Description:     "Turn right",
		},
	}
	path, _, err := route.Build(legs)
	require.NoError(t, err)

	s := New(time.Second, drive.LookAt{Range: 1000})
	var steps []int
	finished := false
	sim, err := drive.New(context.Background(), s, path, drive.Options{
		ModelURL:      writeModel(t, minimalModel),
		TickDuration:  10 * time.Second,
		OnStepChanged: func(step int) { steps = append(steps, step) },
		OnFinish:      func() { finished = true },
	})
	require.NoError(t, err)
	require.NotNil(t, s.Snapshot().Vehicle)

	s.Do(func() { require.NoError(t, sim.Start()) })
	assert.True(t, s.Snapshot().Instant)

	for i := 0; i < 100 && !finished; i++ {
		s.Step()
	}
	assert.True(t, finished)
	assert.Equal(t, []int{0, 1}, steps)
	assert.Nil(t, s.Snapshot().Vehicle)
	assert.False(t, s.Snapshot().Instant)
}
