package preset

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptzgate/internal/scantour"
	"ptzgate/internal/state"
)

type fakeCam struct {
	mu      sync.Mutex
	set     []int
	cleared []int
	setErr  error
	clrErr  error

	// если заданы, SetPreset сообщает номер в entered и ждёт gate
	entered chan int
	gate    chan struct{}
}

func (c *fakeCam) SetPreset(ctx context.Context, n int) error {
	if c.entered != nil {
		c.entered <- n
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.set = append(c.set, n)
	return nil
}

func (c *fakeCam) ClearPreset(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, n)
	return c.clrErr
}

type fakeCameras map[string]*fakeCam

func (f fakeCameras) PresetCamera(id string) (Camera, error) {
	c, ok := f[id]
	if !ok {
		return nil, errors.New("camera not found")
	}
	return c, nil
}

type fakeDetector struct {
	camera string
	zones  []state.Rect
}

func (d *fakeDetector) StartIntrusion(ctx context.Context, cameraID string, zones []state.Rect) error {
	d.camera, d.zones = cameraID, zones
	return nil
}

func newService(t *testing.T) (*Service, fakeCameras, *fakeDetector) {
	st, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	cams := fakeCameras{"cam1": &fakeCam{}, "cam2": &fakeCam{}}
	det := &fakeDetector{}
	return NewService(st, cams, det), cams, det
}

func intPtr(n int) *int { return &n }

func request(cameraID string) CreateRequest {
	return CreateRequest{
		Name:       "north fence",
		CameraID:   cameraID,
		Rectangles: []state.Rect{{X: 1, Y: 1, Width: 10, Height: 10}},
		ImageData:  "data:image/png;base64,AAAA",
	}
}

func TestAllocateNumber(t *testing.T) {
	n, err := AllocateNumber(nil, "cam1")
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	presets := []state.Preset{
		{CameraID: "cam1", PresetNumber: intPtr(30)},
		{CameraID: "cam1", PresetNumber: intPtr(32)},
		{CameraID: "cam2", PresetNumber: intPtr(31)},
		{CameraID: "cam1"},
	}
	n, err = AllocateNumber(presets, "cam1")
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	n, err = AllocateNumber(presets, "cam2")
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	full := []state.Preset{}
	for i := MinSlot; i <= MaxSlot; i++ {
		full = append(full, state.Preset{CameraID: "cam1", PresetNumber: intPtr(i)})
	}
	_, err = AllocateNumber(full, "cam1")
	assert.ErrorIs(t, err, ErrSlotsExhausted)
}

func TestCreateAndDelete(t *testing.T) {
	svc, cams, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, request("cam1"))
	require.NoError(t, err)
	b, err := svc.Create(ctx, request("cam1"))
	require.NoError(t, err)
	c, err := svc.Create(ctx, request("cam2"))
	require.NoError(t, err)

	assert.Equal(t, 30, *a.PresetNumber)
	assert.Equal(t, 31, *b.PresetNumber)
	assert.Equal(t, 30, *c.PresetNumber)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, DefaultTimeInterval, a.TimeInterval)
	assert.Equal(t, []int{30, 31}, cams["cam1"].set)

	list, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)

	deleted, err := svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, deleted.ID)
	assert.Equal(t, []int{30}, cams["cam1"].cleared)

	// освободившийся слот переиспользуется
	d, err := svc.Create(ctx, request("cam1"))
	require.NoError(t, err)
	assert.Equal(t, 30, *d.PresetNumber)

	_, err = svc.Delete(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	r := request("cam1")
	r.Rectangles = nil
	_, err := svc.Create(ctx, r)
	assert.ErrorIs(t, err, ErrInvalid)

	r = request("cam1")
	r.Name = ""
	_, err = svc.Create(ctx, r)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(ctx, request("cam9"))
	assert.Error(t, err)
}

func TestCreateCameraFailureStoresNothing(t *testing.T) {
	svc, cams, _ := newService(t)
	cams["cam1"].setErr = errors.New("401")

	_, err := svc.Create(context.Background(), request("cam1"))
	require.Error(t, err)

	list, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteIgnoresCameraFailure(t *testing.T) {
	svc, cams, _ := newService(t)
	p, err := svc.Create(context.Background(), request("cam1"))
	require.NoError(t, err)

	cams["cam1"].clrErr = errors.New("camera offline")
	_, err = svc.Delete(context.Background(), p.ID)
	require.NoError(t, err)

	list, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStartDetection(t *testing.T) {
	svc, _, det := newService(t)
	p, err := svc.Create(context.Background(), request("cam2"))
	require.NoError(t, err)

	_, err = svc.StartDetection(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "cam2", det.camera)
	assert.Equal(t, p.Rectangles, det.zones)
}

type tourCam struct{}

func (tourCam) PositionAbsolute(ctx context.Context, pan, tilt, zoom float64) error { return nil }

type tourCameras struct{}

func (tourCameras) Positioner(string) (scantour.Positioner, error) { return tourCam{}, nil }
func (tourCameras) Partner(string) (string, error) { return "", errors.New("no partner") }

func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for more than %s", what, d)
	}
}

func TestCreateDoesNotBlockStateWhileCameraBusy(t *testing.T) {
	svc, cams, _ := newService(t)
	ctx := context.Background()

	tourPreset, err := svc.Create(ctx, request("cam2"))
	require.NoError(t, err)
	eng := scantour.New(scantour.Config{Cameras: tourCameras{}, Store: svc.store, Presets: svc.store})
	_, err = eng.Start(ctx, tourPreset, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = eng.Stop(context.Background()) })

	cam := cams["cam1"]
	cam.entered = make(chan int, 2)
	cam.gate = make(chan struct{})

	type result struct {
		p   state.Preset
		err error
	}
	first := make(chan result, 1)
	go func() {
		p, err := svc.Create(ctx, request("cam1"))
		first <- result{p, err}
	}()
	assert.Equal(t, 30, <-cam.entered)

	// камера ещё отвечает: обход и файл состояния не ждут её
	within(t, time.Second, "Pause", func() {
		_, err := eng.Pause()
		assert.NoError(t, err)
	})
	within(t, time.Second, "SaveTourState", func() {
		assert.NoError(t, svc.store.SaveTourState(state.TourState{Status: state.TourPaused}))
	})

	// второй Create на ту же камеру получает следующий слот
	second := make(chan result, 1)
	go func() {
		p, err := svc.Create(ctx, request("cam1"))
		second <- result{p, err}
	}()
	assert.Equal(t, 31, <-cam.entered)

	close(cam.gate)
	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, 30, *r1.p.PresetNumber)
	assert.Equal(t, 31, *r2.p.PresetNumber)

	list, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestCreateFailureReleasesSlot(t *testing.T) {
	svc, cams, _ := newService(t)
	cams["cam1"].setErr = errors.New("timeout")
	_, err := svc.Create(context.Background(), request("cam1"))
	require.Error(t, err)

	cams["cam1"].setErr = nil
	p, err := svc.Create(context.Background(), request("cam1"))
	require.NoError(t, err)
	assert.Equal(t, 30, *p.PresetNumber)
}

func TestDeleteRefusesPresetInUse(t *testing.T) {
	svc, cams, _ := newService(t)
	p, err := svc.Create(context.Background(), request("cam1"))
	require.NoError(t, err)

	svc.InUse = func(id string) bool { return id == p.ID }
	_, err = svc.Delete(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInUse)
	assert.Empty(t, cams["cam1"].cleared)

	list, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	svc.InUse = func(string) bool { return false }
	_, err = svc.Delete(context.Background(), p.ID)
	require.NoError(t, err)
}

func TestDeleteAgainstTourStart(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, request("cam1"))
	require.NoError(t, err)

	eng := scantour.New(scantour.Config{Cameras: tourCameras{}, Store: svc.store, Presets: svc.store})
	svc.InUse = eng.UsesPreset
	t.Cleanup(func() { _, _ = eng.Stop(context.Background()) })

	var wg sync.WaitGroup
	var startErr, deleteErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, startErr = eng.Start(ctx, p, 10)
	}()
	go func() {
		defer wg.Done()
		_, deleteErr = svc.Delete(ctx, p.ID)
	}()
	wg.Wait()

	// ровно одна сторона выигрывает
	if deleteErr == nil {
		assert.ErrorIs(t, startErr, scantour.ErrNoPreset)
		assert.Equal(t, state.TourStopped, eng.Status().Status)
	} else {
		assert.ErrorIs(t, deleteErr, ErrInUse)
		assert.NoError(t, startErr)
		assert.Equal(t, p.ID, eng.Status().PresetID)
	}
}
