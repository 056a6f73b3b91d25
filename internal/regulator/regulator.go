package regulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"time"

	"ptzgate/internal/camera"
)

var ErrInitialRead = errors.New("could not read initial value")

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	DefaultMaxTries = 100
	DefaultBurst    = 200 * time.Millisecond
	DefaultSettle   = 50 * time.Millisecond
)

// PTZ: то, что регулятору нужно от камеры (camera.Client).
type PTZ interface {
	Status(ctx context.Context) (string, error)
	Control(ctx context.Context, action, code string, arg1, arg2, arg3 float64) (string, error)
}

// Actuator описывает регулируемую величину: откуда её читать и какими
// командами двигать. "in" увеличивает значение, "out" уменьшает.
type Actuator struct {
	Name    string
	Pattern *regexp.Regexp
	InCode  string
	OutCode string
	// zoom на stop ждёт скорость в arg1, focus шлёт нули
	StopWithSpeed bool
}

var (
	Zoom = Actuator{
		Name:          "zoom",
		Pattern:       regexp.MustCompile(`status\.ZoomValue=([\d\.\-]+)`),
		InCode:        camera.CodeZoomTele,
		OutCode:       camera.CodeZoomWide,
		StopWithSpeed: true,
	}
	Focus = Actuator{
		Name:    "focus",
		Pattern: regexp.MustCompile(`status\.PTZFocusHD=([\d\.\-]+)`),
		InCode:  camera.CodeFocusNear,
		OutCode: camera.CodeFocusFar,
	}
)

func (a Actuator) code(direction string) string {
	if direction == DirectionIn {
		return a.InCode
	}
	return a.OutCode
}

// Read достаёт значение из текста getStatus.
func (a Actuator) Read(status string) (float64, bool) {
	m := a.Pattern.FindStringSubmatch(status)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type Request struct {
	Target    float64       `json:"target"`
	Tolerance float64       `json:"tolerance"`
	MaxTries  int           `json:"maxTries"`
	Burst     time.Duration `json:"-"`
}

type Result struct {
	Value     float64 `json:"value"`
	Stopped   bool    `json:"stopped"`
	Tries     int     `json:"tries"`
	Direction string  `json:"direction,omitempty"`
	Target    float64 `json:"target"`
	Tolerance float64 `json:"tolerance"`
}

// SpeedFor: ступенчатый выбор скорости по расстоянию до цели.
func SpeedFor(diff float64) int {
	switch {
	case diff > 100:
		return 5
	case diff > 30:
		return 3
	case diff > 10:
		return 2
	default:
		return 1
	}
}

type Regulator struct {
	Settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func New() *Regulator {
	return &Regulator{Settle: DefaultSettle, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Converge двигает актуатор короткими импульсами, пока значение не войдёт
// в [Target-Tolerance, Target+Tolerance] или не кончатся попытки.
// Исчерпание попыток ошибкой не является: Result.Stopped=false.
func (r *Regulator) Converge(ctx context.Context, ptz PTZ, act Actuator, req Request) (Result, error) {
	if req.Burst <= 0 {
		req.Burst = DefaultBurst
	}
	res := Result{Target: req.Target, Tolerance: req.Tolerance}

	status, err := ptz.Status(ctx)
	if err != nil {
		return res, fmt.Errorf("%w (%s): %v", ErrInitialRead, act.Name, err)
	}
	value, ok := act.Read(status)
	if !ok {
		return res, fmt.Errorf("%w (%s)", ErrInitialRead, act.Name)
	}
	res.Value = value

	lo, hi := req.Target-req.Tolerance, req.Target+req.Tolerance
	within := func(v float64) bool { return v >= lo && v <= hi }

	if within(value) {
		res.Stopped = true
		return res, nil
	}

	direction := DirectionIn
	if value > req.Target {
		direction = DirectionOut
	}

	for res.Tries < req.MaxTries {
		speed := SpeedFor(math.Abs(value - req.Target))
		code := act.code(direction)

		if _, err := ptz.Control(ctx, "start", code, 0, 0, float64(speed)); err != nil {
			log.Printf("[regulator] %s start %s: %v", act.Name, code, err)
		}
		if err := r.sleep(ctx, req.Burst); err != nil {
			r.stop(act, ptz, code, speed)
			return res, err
		}
		r.stop(act, ptz, code, speed)
		if err := r.sleep(ctx, r.Settle); err != nil {
			return res, err
		}
		res.Tries++

		status, err := ptz.Status(ctx)
		if err != nil {
			log.Printf("[regulator] %s poll: %v", act.Name, err)
			continue
		}
		next, ok := act.Read(status)
		if !ok {
			log.Printf("[regulator] %s poll: value not found", act.Name)
			continue
		}
		value = next
		res.Value = value

		if within(value) {
			res.Stopped = true
			break
		}
		// перелёт через полосу допуска: разворачиваемся
		if direction == DirectionIn && value > hi {
			direction = DirectionOut
		} else if direction == DirectionOut && value < lo {
			direction = DirectionIn
		}
	}

	res.Direction = direction
	return res, nil
}

// stop шлётся всегда, даже если ctx уже отменён, иначе мотор останется крутиться.
func (r *Regulator) stop(act Actuator, ptz PTZ, code string, speed int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	arg1 := 0.0
	if act.StopWithSpeed {
		arg1 = float64(speed)
	}
	if _, err := ptz.Control(ctx, "stop", code, arg1, 0, 0); err != nil {
		log.Printf("[regulator] %s stop %s: %v", act.Name, code, err)
	}
}
