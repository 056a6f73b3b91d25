package regulator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Action string
	Code   string
	Arg1   float64
	Arg3   float64
}

// fakePTZ: модель камеры, каждая команда start сдвигает значение
// на step[code]*speed.
type fakePTZ struct {
	key        string
	value      float64
	step       map[string]float64
	calls      []call
	polls      int
	failPolls  map[int]bool // номер опроса (с 1), который вернёт ошибку
	statusText string
}

func (f *fakePTZ) Status(ctx context.Context) (string, error) {
	f.polls++
	if f.failPolls[f.polls] {
		return "", errors.New("timeout")
	}
	if f.statusText != "" {
		return f.statusText, nil
	}
	return fmt.Sprintf("status.Action=Idle\r\n%s=%g\r\nstatus.Other=1\r\n", f.key, f.value), nil
}

func (f *fakePTZ) Control(ctx context.Context, action, code string, arg1, arg2, arg3 float64) (string, error) {
	f.calls = append(f.calls, call{Action: action, Code: code, Arg1: arg1, Arg3: arg3})
	if action == "start" {
		f.value += f.step[code] * arg3
	}
	return "OK", nil
}

func (f *fakePTZ) starts() []string {
	var out []string
	for _, c := range f.calls {
		if c.Action == "start" {
			out = append(out, c.Code)
		}
	}
	return out
}

func newTestRegulator() *Regulator {
	return &Regulator{sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() }}
}

func zoomCamera(value float64) *fakePTZ {
	return &fakePTZ{
		key:   "status.ZoomValue",
		value: value,
		step:  map[string]float64{"ZoomTele": 2, "ZoomWide": -2},
	}
}

func TestConvergeAlreadyWithinTolerance(t *testing.T) {
	for _, v := range []float64{43, 44, 45} {
		cam := zoomCamera(v)
		res, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 100})
		require.NoError(t, err)
		assert.True(t, res.Stopped)
		assert.Equal(t, 0, res.Tries)
		assert.Empty(t, cam.calls)
		assert.Equal(t, 1, cam.polls)
	}
}

func TestConvergeZoomIn(t *testing.T) {
	cam := zoomCamera(10)
	res, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 100})
	require.NoError(t, err)

	assert.True(t, res.Stopped)
	assert.GreaterOrEqual(t, res.Value, 43.0)
	assert.LessOrEqual(t, res.Value, 45.0)
	assert.Equal(t, DirectionIn, res.Direction)

	require.GreaterOrEqual(t, len(cam.calls), 2)
	// diff=34 -> скорость 3; stop для zoom несёт скорость в arg1
	assert.Equal(t, call{Action: "start", Code: "ZoomTele", Arg3: 3}, cam.calls[0])
	assert.Equal(t, call{Action: "stop", Code: "ZoomTele", Arg1: 3}, cam.calls[1])
	for _, code := range cam.starts() {
		assert.Equal(t, "ZoomTele", code)
	}
}

func TestConvergeFocusOut(t *testing.T) {
	cam := &fakePTZ{
		key:   "status.PTZFocusHD",
		value: 30000,
		step:  map[string]float64{"FocusNear": 100, "FocusFar": -100},
	}
	res, err := newTestRegulator().Converge(context.Background(), cam, Focus, Request{Target: 25137, Tolerance: 200, MaxTries: 100})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, DirectionOut, res.Direction)
	assert.Equal(t, call{Action: "start", Code: "FocusFar", Arg3: 5}, cam.calls[0])
	assert.Equal(t, call{Action: "stop", Code: "FocusFar"}, cam.calls[1])
}

func TestConvergeReversesOnOvershoot(t *testing.T) {
	cam := &fakePTZ{
		key:   "status.ZoomValue",
		value: 40,
		// +10 на любой скорости вверх, -5 вниз
		step: map[string]float64{"ZoomTele": 10, "ZoomWide": -5},
	}
	res, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 10})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, []string{"ZoomTele", "ZoomWide"}, cam.starts())
	assert.Equal(t, DirectionOut, res.Direction)
	assert.Equal(t, 2, res.Tries)
}

func TestConvergeTerminatesWithinMaxTries(t *testing.T) {
	for _, maxTries := range []int{0, 1, 5, 100} {
		t.Run(fmt.Sprint(maxTries), func(t *testing.T) {
			cam := zoomCamera(0)
			cam.step = map[string]float64{} // камера не двигается
			res, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: maxTries})
			require.NoError(t, err)
			assert.False(t, res.Stopped)
			assert.Equal(t, maxTries, res.Tries)
			assert.Len(t, cam.starts(), maxTries)
			assert.Len(t, cam.calls, 2*maxTries)
		})
	}
}

func TestConvergeInitialReadFailure(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		cam := zoomCamera(10)
		cam.failPolls = map[int]bool{1: true}
		_, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 3})
		assert.ErrorIs(t, err, ErrInitialRead)
		assert.Empty(t, cam.calls)
	})
	t.Run("value missing", func(t *testing.T) {
		cam := zoomCamera(10)
		cam.statusText = "status.Action=Idle\r\n"
		_, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 3})
		assert.ErrorIs(t, err, ErrInitialRead)
		assert.Empty(t, cam.calls)
	})
}

func TestConvergeFailedPollConsumesTry(t *testing.T) {
	cam := zoomCamera(40)
	cam.failPolls = map[int]bool{2: true}
	res, err := newTestRegulator().Converge(context.Background(), cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 10})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	// 40 -> 42 (опрос упал, значение не обновилось) -> 44
	assert.Equal(t, 2, res.Tries)
	assert.Equal(t, 44.0, res.Value)
}

func TestConvergeCancelled(t *testing.T) {
	cam := zoomCamera(0)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Regulator{sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	_, err := r.Converge(ctx, cam, Zoom, Request{Target: 44, Tolerance: 1, MaxTries: 10})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, cam.calls, 2)
	assert.Equal(t, "stop", cam.calls[1].Action)
}

func TestSpeedFor(t *testing.T) {
	cases := map[float64]int{
		0: 1, 10: 1, 10.5: 2, 30: 2, 31: 3, 100: 3, 100.1: 5, 5000: 5,
	}
	for diff, want := range cases {
		assert.Equal(t, want, SpeedFor(diff), "diff=%v", diff)
	}
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	release, err := g.Acquire("cam1", Zoom)
	require.NoError(t, err)

	_, err = g.Acquire("cam1", Zoom)
	assert.ErrorIs(t, err, ErrBusy)

	other, err := g.Acquire("cam1", Focus)
	require.NoError(t, err)
	other()

	another, err := g.Acquire("cam2", Zoom)
	require.NoError(t, err)
	another()

	release()
	release()
	again, err := g.Acquire("cam1", Zoom)
	require.NoError(t, err)
	again()
}
