package drive

import (
	"context"

	"drivesim/pkg/geo"
)

type fakeRenderer struct {
	loadErr   error
	loadedURL string

	vehicle        *geo.Point
	vehicleHeading float64
	placements     int
	removed        bool

	camera       LookAt
	cameraSets   int
	instant      bool
	instantCalls []bool

	subs    map[Subscription]func()
	nextSub Subscription
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		camera: LookAt{Range: 1000},
		subs:   make(map[Subscription]func()),
	}
}

func (f *fakeRenderer) LoadVehicleModel(ctx context.Context, url string) error {
	f.loadedURL = url
	return f.loadErr
}

func (f *fakeRenderer) PlaceVehicle(loc geo.Point, heading float64) {
	f.vehicle = &loc
	f.vehicleHeading = heading
	f.placements++
}

func (f *fakeRenderer) RemoveVehicle() {
	f.vehicle = nil
	f.removed = true
}

func (f *fakeRenderer) CameraView() LookAt { return f.camera }

func (f *fakeRenderer) SetCameraView(la LookAt) {
	f.camera = la
	f.cameraSets++
}

func (f *fakeRenderer) SetInstantCameraMotion(instant bool) bool {
	prev := f.instant
	f.instant = instant
	f.instantCalls = append(f.instantCalls, instant)
	return prev
}

func (f *fakeRenderer) SubscribeFrame(fn func()) Subscription {
	f.nextSub++
	f.subs[f.nextSub] = fn
	return f.nextSub
}

func (f *fakeRenderer) Unsubscribe(sub Subscription) {
	delete(f.subs, sub)
}

// frame delivers one frame signal to every subscriber.
func (f *fakeRenderer) frame() {
	for _, fn := range f.subs {
		fn()
	}
}
