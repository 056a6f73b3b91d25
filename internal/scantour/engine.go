package scantour

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"ptzgate/internal/detector"
	"ptzgate/internal/events"
	"ptzgate/internal/state"
)

var (
	ErrTourActive = errors.New("only one scan tour can run at a time")
	ErrNoTour     = errors.New("no active scan tour")
	ErrNotRunning = errors.New("scan tour is not running")
	ErrNotPaused  = errors.New("scan tour is not paused")
	ErrInvalid    = errors.New("invalid scan tour parameters")
	ErrNoPreset   = errors.New("scan tour preset not found")
)

// Positioner: абсолютное позиционирование камеры (camera.Client).
type Positioner interface {
	PositionAbsolute(ctx context.Context, pan, tilt, zoom float64) error
}

// Cameras находит камеру обхода и её напарника для детектора.
type Cameras interface {
	Positioner(cameraID string) (Positioner, error)
	Partner(cameraID string) (string, error)
}

// Backend: процесс детекции (detector.Client).
type Backend interface {
	UpdateIntrusion(ctx context.Context, cameraID string, u detector.Update) error
	StopIntrusion(ctx context.Context, cameraID string) error
}

// Persister хранит состояние обхода (state.Store).
type Persister interface {
	SaveTourState(ts state.TourState) error
}

// Presets: свежая запись пресета на момент старта (state.Store).
type Presets interface {
	Preset(id string) (state.Preset, bool, error)
}

type Config struct {
	Cameras Cameras
	Backend Backend
	Store   Persister
	Presets Presets
	Events  events.Buffer
	// таймаут вызовов камеры и детектора на одном шаге
	StepTimeout time.Duration
}

type tour struct {
	preset    state.Preset
	cameraID  string
	partnerID string
	cam       Positioner
	panStep   float64
	angle     float64
	status    state.TourStatus

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine ведёт обход сканированием, не больше одного активного обхода на процесс.
type Engine struct {
	cfg Config

	mu             sync.Mutex
	tour           *tour
	starting       string // камера, для которой идёт Start
	startingPreset string
	observers      []Observer
	saveSeq        uint64

	// запись в Store идёт вне mu; saved отсекает устаревшие снимки
	saveMu sync.Mutex
	saved  uint64

	newTicker func(d time.Duration) (<-chan time.Time, func())
	afterStep func()
}

func New(cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	return &Engine{
		cfg: cfg,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Subscribe регистрирует наблюдателя. Вызывается синхронно, не должен блокировать.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Start переводит камеру пресета в (0, tilt, zoom) и запускает обход
// с шагом panStep градусов каждые preset.TimeInterval секунд.
func (e *Engine) Start(ctx context.Context, preset state.Preset, panStep float64) (Snapshot, error) {
	if preset.TimeInterval <= 0 || math.IsNaN(panStep) || math.IsInf(panStep, 0) {
		return Snapshot{}, fmt.Errorf("%w: timeInterval=%v panStep=%v", ErrInvalid, preset.TimeInterval, panStep)
	}

	e.mu.Lock()
	if e.tour != nil {
		active := e.tour.cameraID
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: tour already active for %s", ErrTourActive, active)
	}
	if e.starting != "" {
		active := e.starting
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: tour already active for %s", ErrTourActive, active)
	}
	e.starting = preset.CameraID
	e.startingPreset = preset.ID
	e.mu.Unlock()

	t, err := e.prepare(ctx, preset, panStep)

	e.mu.Lock()
	e.starting = ""
	e.startingPreset = ""
	if err != nil {
		e.mu.Unlock()
		e.emit(Event{Type: EventError, CameraID: preset.CameraID, PresetID: preset.ID, Error: err.Error()})
		return Snapshot{}, err
	}
	e.tour = t
	snap := t.snapshot()
	rec := e.record(t)
	ticks, stop := e.newTicker(time.Duration(preset.TimeInterval * float64(time.Second)))
	go e.run(t, ticks, stop)
	e.mu.Unlock()
	e.persist(rec)

	log.Printf("[scantour] started on %s preset=%s step=%v interval=%vs partner=%s",
		t.cameraID, preset.ID, panStep, preset.TimeInterval, t.partnerID)
	e.emit(Event{Type: EventStarted, Snapshot: snap})
	e.notifyBackend(t, snap.PanAngle)
	return snap, nil
}

// prepare перечитывает пресет и ставит камеру в исходную позицию.
// Состояние движка не трогает.
func (e *Engine) prepare(ctx context.Context, preset state.Preset, panStep float64) (*tour, error) {
	// startingPreset уже выставлен, так что параллельный Delete либо
	// увидит пресет занятым, либо успеет удалить его до этой проверки
	if e.cfg.Presets != nil {
		fresh, ok, err := e.cfg.Presets.Preset(preset.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPreset, preset.ID)
		}
		preset = fresh
	}

	cam, err := e.cfg.Cameras.Positioner(preset.CameraID)
	if err != nil {
		return nil, err
	}
	partner, err := e.cfg.Cameras.Partner(preset.CameraID)
	if err != nil {
		log.Printf("[scantour] no partner for %s, detector will not be notified: %v", preset.CameraID, err)
		partner = ""
	}

	if err := cam.PositionAbsolute(ctx, 0, preset.TiltAngle, preset.ZoomLevel); err != nil {
		return nil, fmt.Errorf("initial position for %s: %w", preset.CameraID, err)
	}

	tctx, cancel := context.WithCancel(context.Background())
	return &tour{
		preset:    preset,
		cameraID:  preset.CameraID,
		partnerID: partner,
		cam:       cam,
		panStep:   panStep,
		angle:     0,
		status:    state.TourRunning,
		ctx:       tctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

func (e *Engine) Pause() (Snapshot, error) {
	e.mu.Lock()
	t := e.tour
	if t == nil || t.status != state.TourRunning {
		e.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	t.status = state.TourPaused
	snap := t.snapshot()
	rec := e.record(t)
	e.mu.Unlock()
	e.persist(rec)

	log.Printf("[scantour] paused on %s at %v°", t.cameraID, snap.PanAngle)
	e.emit(Event{Type: EventPaused, Snapshot: snap})
	return snap, nil
}

func (e *Engine) Resume() (Snapshot, error) {
	e.mu.Lock()
	t := e.tour
	if t == nil || t.status != state.TourPaused {
		e.mu.Unlock()
		return Snapshot{}, ErrNotPaused
	}
	t.status = state.TourRunning
	snap := t.snapshot()
	rec := e.record(t)
	e.mu.Unlock()
	e.persist(rec)

	log.Printf("[scantour] resumed on %s", t.cameraID)
	e.emit(Event{Type: EventResumed, Snapshot: snap})
	return snap, nil
}

// Stop гасит таймер, дожидается текущего шага и снимает детектор.
func (e *Engine) Stop(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	t := e.tour
	if t == nil {
		e.mu.Unlock()
		return Snapshot{}, ErrNoTour
	}
	e.tour = nil
	t.status = state.TourStopped
	snap := t.snapshot()
	rec := e.record(nil)
	e.mu.Unlock()
	e.persist(rec)

	t.cancel()
	<-t.done

	if t.partnerID != "" && e.cfg.Backend != nil {
		bctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		if err := e.cfg.Backend.StopIntrusion(bctx, t.partnerID); err != nil {
			log.Printf("[scantour] backend stop for %s: %v", t.partnerID, err)
		}
		cancel()
	}

	log.Printf("[scantour] stopped on %s", t.cameraID)
	e.emit(Event{Type: EventStopped, Snapshot: snap})
	return snap, nil
}

// Status: текущее состояние; без активного обхода Status=stopped.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tour == nil {
		return Snapshot{Status: state.TourStopped}
	}
	return e.tour.snapshot()
}

// UsesPreset: пресет занят активным или стартующим обходом.
func (e *Engine) UsesPreset(presetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startingPreset == presetID {
		return true
	}
	return e.tour != nil && e.tour.preset.ID == presetID
}

func (e *Engine) run(t *tour, ticks <-chan time.Time, stop func()) {
	defer close(t.done)
	defer stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticks:
			e.step(t)
			if e.afterStep != nil {
				e.afterStep()
			}
		}
	}
}

// step: один шаг по таймеру. На паузе ничего не делает.
func (e *Engine) step(t *tour) {
	e.mu.Lock()
	if e.tour != t || t.status != state.TourRunning {
		e.mu.Unlock()
		return
	}
	t.angle = WrapAngle(t.angle + t.panStep)
	angle := t.angle
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.ctx, e.cfg.StepTimeout)
	err := t.cam.PositionAbsolute(ctx, angle, t.preset.TiltAngle, t.preset.ZoomLevel)
	cancel()

	// за время движения обход могли остановить, тогда stopped уже записан
	e.mu.Lock()
	current := e.tour == t
	var rec saveRecord
	if current {
		rec = e.record(t)
	}
	e.mu.Unlock()
	if current {
		e.persist(rec)
	}

	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		log.Printf("[scantour] %s move to %v° failed: %v", t.cameraID, angle, err)
		e.emit(Event{Type: EventError, CameraID: t.cameraID, PresetID: t.preset.ID, Error: err.Error()})
		return
	}

	e.emit(Event{Type: EventMovement, Snapshot: Snapshot{
		Status:    state.TourRunning,
		PresetID:  t.preset.ID,
		CameraID:  t.cameraID,
		PartnerID: t.partnerID,
		PanAngle:  angle,
		TiltAngle: t.preset.TiltAngle,
		ZoomLevel: t.preset.ZoomLevel,
	}})
	e.notifyBackend(t, angle)
}

func (e *Engine) notifyBackend(t *tour, angle float64) {
	if t.partnerID == "" || e.cfg.Backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, e.cfg.StepTimeout)
	defer cancel()
	err := e.cfg.Backend.UpdateIntrusion(ctx, t.partnerID, detector.Update{
		Zones:        t.preset.Rectangles,
		PanAngle:     angle,
		TiltAngle:    t.preset.TiltAngle,
		ZoomLevel:    t.preset.ZoomLevel,
		TimeInterval: t.preset.TimeInterval,
		CameraID:     t.partnerID,
	})
	if err != nil && t.ctx.Err() == nil {
		// ошибки детектора обход не останавливают
		log.Printf("[scantour] backend update for %s: %v", t.partnerID, err)
	}
}

type saveRecord struct {
	seq uint64
	ts  state.TourState
}

// record снимает состояние для записи; t == nil означает stopped. Вызывается под mu.
func (e *Engine) record(t *tour) saveRecord {
	e.saveSeq++
	ts := state.TourState{Status: state.TourStopped}
	if t != nil {
		presetID, cameraID, angle := t.preset.ID, t.cameraID, t.angle
		ts = state.TourState{
			Status:          t.status,
			ActivePresetID:  &presetID,
			CameraID:        &cameraID,
			CurrentPanAngle: &angle,
		}
	}
	return saveRecord{seq: e.saveSeq, ts: ts}
}

// persist пишет снимок вне mu. Снимок старше уже записанного пропускается.
func (e *Engine) persist(rec saveRecord) {
	if e.cfg.Store == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if rec.seq <= e.saved {
		return
	}
	if err := e.cfg.Store.SaveTourState(rec.ts); err != nil {
		log.Printf("[scantour] persist: %v", err)
		return
	}
	e.saved = rec.seq
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.CameraID == "" {
		ev.CameraID = ev.Snapshot.CameraID
	}
	if ev.PresetID == "" {
		ev.PresetID = ev.Snapshot.PresetID
	}

	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	if e.cfg.Events != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			e.cfg.Events.Push(events.Event{
				Source:  ev.CameraID,
				Topic:   TopicPrefix + ev.Type,
				Payload: payload,
				Time:    ev.Time,
			})
		}
	}
	for _, o := range observers {
		o(ev)
	}
}

// WrapAngle приводит угол к [0, 360) для любых знаков.
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}
