package preset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ptzgate/internal/state"
)

const (
	MinSlot = 30
	MaxSlot = 128

	DefaultTimeInterval = 10.0
)

var (
	ErrNotFound       = errors.New("preset not found")
	ErrSlotsExhausted = errors.New("maximum number of presets reached (30-128)")
	ErrInvalid        = errors.New("invalid preset")
	ErrInUse          = errors.New("preset is used by the active scan tour")
)

// Camera: операции с пресетами на стороне камеры (camera.Client).
type Camera interface {
	SetPreset(ctx context.Context, n int) error
	ClearPreset(ctx context.Context, n int) error
}

type Cameras interface {
	PresetCamera(cameraID string) (Camera, error)
}

// Detector запускает детекцию по зонам пресета (detector.Client).
type Detector interface {
	StartIntrusion(ctx context.Context, cameraID string, zones []state.Rect) error
}

type CreateRequest struct {
	Name         string       `json:"name"`
	CameraID     string       `json:"cameraId"`
	Rectangles   []state.Rect `json:"rectangles"`
	ImageData    string       `json:"imageData"`
	PanAngle     float64      `json:"panAngle"`
	TiltAngle    float64      `json:"tiltAngle"`
	ZoomLevel    float64      `json:"zoomLevel"`
	TimeInterval float64      `json:"timeInterval"`
}

type Service struct {
	store    *state.Store
	cameras  Cameras
	detector Detector
	now      func() time.Time

	// InUse проверяется внутри записи при удалении (scantour.Engine.UsesPreset).
	InUse func(presetID string) bool

	// слоты, по которым идёт вызов камеры: camera -> номера.
	// mu берётся раньше блокировки store.
	mu       sync.Mutex
	reserved map[string]map[int]bool
}

func NewService(store *state.Store, cameras Cameras, detector Detector) *Service {
	return &Service{
		store:    store,
		cameras:  cameras,
		detector: detector,
		now:      time.Now,
		reserved: map[string]map[int]bool{},
	}
}

// AllocateNumber: первый свободный номер 30..128 среди пресетов камеры.
// busy добавляет занятые номера сверх записанных в пресетах.
func AllocateNumber(presets []state.Preset, cameraID string, busy ...int) (int, error) {
	used := map[int]bool{}
	for _, p := range presets {
		if p.CameraID == cameraID && p.PresetNumber != nil {
			used[*p.PresetNumber] = true
		}
	}
	for _, n := range busy {
		used[n] = true
	}
	for n := MinSlot; n <= MaxSlot; n++ {
		if !used[n] {
			return n, nil
		}
	}
	return 0, ErrSlotsExhausted
}

func (s *Service) List() ([]state.Preset, error) {
	return s.store.Presets()
}

func (s *Service) Get(id string) (state.Preset, error) {
	p, ok, err := s.store.Preset(id)
	if err != nil {
		return state.Preset{}, err
	}
	if !ok {
		return state.Preset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Create запоминает текущее положение камеры в свободном слоте и сохраняет пресет.
// Если камера не приняла SetPreset, пресет не создаётся.
func (s *Service) Create(ctx context.Context, req CreateRequest) (state.Preset, error) {
	switch {
	case req.Name == "":
		return state.Preset{}, fmt.Errorf("%w: name is required", ErrInvalid)
	case req.CameraID == "":
		return state.Preset{}, fmt.Errorf("%w: cameraId is required", ErrInvalid)
	case len(req.Rectangles) == 0:
		return state.Preset{}, fmt.Errorf("%w: at least one detection zone is required", ErrInvalid)
	case req.TimeInterval < 0:
		return state.Preset{}, fmt.Errorf("%w: timeInterval must be positive", ErrInvalid)
	}
	if req.TimeInterval == 0 {
		req.TimeInterval = DefaultTimeInterval
	}

	cam, err := s.cameras.PresetCamera(req.CameraID)
	if err != nil {
		return state.Preset{}, err
	}

	n, err := s.reserve(req.CameraID)
	if err != nil {
		return state.Preset{}, err
	}
	defer s.release(req.CameraID, n)

	// камера отвечает до camera_timeout, файл состояния на это время не держим
	if err := cam.SetPreset(ctx, n); err != nil {
		return state.Preset{}, fmt.Errorf("failed to create PTZ preset on camera: %w", err)
	}

	var created state.Preset
	err = s.store.Update(func(st *state.State) error {
		created = state.Preset{
			ID:           uuid.NewString(),
			Name:         req.Name,
			CameraID:     req.CameraID,
			Timestamp:    s.now().UnixMilli(),
			Rectangles:   req.Rectangles,
			ImageData:    req.ImageData,
			PresetNumber: &n,
			PanAngle:     req.PanAngle,
			TiltAngle:    req.TiltAngle,
			ZoomLevel:    req.ZoomLevel,
			TimeInterval: req.TimeInterval,
		}
		st.Presets = append(st.Presets, created)
		return nil
	})
	if err != nil {
		return state.Preset{}, err
	}

	log.Printf("[preset] created %q on %s, slot #%d, zones=%d", created.Name, created.CameraID, *created.PresetNumber, len(created.Rectangles))
	return created, nil
}

// reserve выбирает свободный слот с учётом записей в полёте и занимает его.
func (s *Service) reserve(cameraID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, err := s.store.Presets()
	if err != nil {
		return 0, err
	}
	var busy []int
	for n := range s.reserved[cameraID] {
		busy = append(busy, n)
	}
	n, err := AllocateNumber(presets, cameraID, busy...)
	if err != nil {
		return 0, err
	}
	s.hold(cameraID, n)
	return n, nil
}

// hold: вызывается под mu.
func (s *Service) hold(cameraID string, n int) {
	if s.reserved[cameraID] == nil {
		s.reserved[cameraID] = map[int]bool{}
	}
	s.reserved[cameraID][n] = true
}

func (s *Service) release(cameraID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved[cameraID], n)
	if len(s.reserved[cameraID]) == 0 {
		delete(s.reserved, cameraID)
	}
}

// Delete удаляет пресет. Пресет активного обхода не удаляется (ErrInUse).
// Ошибка ClearPreset на камере только логируется.
func (s *Service) Delete(ctx context.Context, id string) (state.Preset, error) {
	var deleted state.Preset
	// слот остаётся занятым до ClearPreset, иначе Create может записать его раньше
	s.mu.Lock()
	err := s.store.Update(func(st *state.State) error {
		idx := -1
		for i, p := range st.Presets {
			if p.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if s.InUse != nil && s.InUse(id) {
			return fmt.Errorf("%w: %s", ErrInUse, id)
		}
		deleted = st.Presets[idx]
		st.Presets = append(st.Presets[:idx], st.Presets[idx+1:]...)
		if deleted.PresetNumber != nil {
			s.hold(deleted.CameraID, *deleted.PresetNumber)
		}
		return nil
	})
	s.mu.Unlock()
	if deleted.PresetNumber != nil {
		defer s.release(deleted.CameraID, *deleted.PresetNumber)
	}
	if err != nil {
		return state.Preset{}, err
	}

	if deleted.PresetNumber != nil {
		cam, err := s.cameras.PresetCamera(deleted.CameraID)
		if err == nil {
			err = cam.ClearPreset(ctx, *deleted.PresetNumber)
		}
		if err != nil {
			log.Printf("[preset] clear slot #%d on %s: %v", *deleted.PresetNumber, deleted.CameraID, err)
		}
	}

	log.Printf("[preset] deleted %q (%s)", deleted.Name, deleted.ID)
	return deleted, nil
}

// StartDetection отдаёт зоны пресета детектору для его камеры.
func (s *Service) StartDetection(ctx context.Context, id string) (state.Preset, error) {
	p, err := s.Get(id)
	if err != nil {
		return state.Preset{}, err
	}
	if err := s.detector.StartIntrusion(ctx, p.CameraID, p.Rectangles); err != nil {
		return p, err
	}
	log.Printf("[preset] intrusion detection started on %s with %q", p.CameraID, p.Name)
	return p, nil
}
