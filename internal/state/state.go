package state

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TourStatus string

const (
	TourRunning TourStatus = "running"
	TourPaused  TourStatus = "paused"
	TourStopped TourStatus = "stopped"
)

// Rect: зона детекции в координатах кадра.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Preset struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CameraID     string  `json:"cameraId"`
	Timestamp    int64   `json:"timestamp"` // unix ms
	Rectangles   []Rect  `json:"rectangles"`
	ImageData    string  `json:"imageData,omitempty"`
	PresetNumber *int    `json:"presetNumber,omitempty"` // 30..128
	PanAngle     float64 `json:"panAngle"`
	TiltAngle    float64 `json:"tiltAngle"`
	ZoomLevel    float64 `json:"zoomLevel"`
	TimeInterval float64 `json:"timeInterval"` // секунды между шагами обхода
}

type TourState struct {
	Status          TourStatus `json:"status"`
	ActivePresetID  *string    `json:"activePresetId"`
	CameraID        *string    `json:"cameraId"`
	CurrentPanAngle *float64   `json:"currentPanAngle"`
	LastUpdated     time.Time  `json:"lastUpdated"`
}

func (t TourState) Active() bool {
	return t.Status == TourRunning || t.Status == TourPaused
}

type State struct {
	Presets       []Preset  `json:"presets"`
	ScanTourState TourState `json:"scanTourState"`
}

// Store: JSON-файл состояния. Каждая запись делает read-modify-write целиком,
// файл подменяется через tmp+rename. Один процесс на файл.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open открывает файл состояния, создавая пустой при отсутствии.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	_, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		initData := State{
			Presets:       []Preset{},
			ScanTourState: TourState{Status: TourStopped, LastUpdated: s.now().UTC()},
		}
		if err := s.write(&initData); err != nil {
			return nil, err
		}
		log.Printf("[state] initialised %s", path)
	case err != nil:
		return nil, fmt.Errorf("state: stat %s: %w", path, err)
	default:
		if _, err := s.read(); err != nil {
			return nil, err
		}
		log.Printf("[state] loaded %s", path)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	if st.Presets == nil {
		st.Presets = []Preset{}
	}
	if st.ScanTourState.Status == "" {
		st.ScanTourState.Status = TourStopped
	}
	return &st, nil
}

func (s *Store) write(st *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

// Load возвращает снимок файла.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update читает файл, применяет fn и записывает результат.
// Если fn вернула ошибку, файл не трогается.
func (s *Store) Update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *Store) TourState() (TourState, error) {
	st, err := s.Load()
	if err != nil {
		return TourState{}, err
	}
	return st.ScanTourState, nil
}

// SaveTourState записывает состояние обхода, проставляя LastUpdated.
func (s *Store) SaveTourState(ts TourState) error {
	return s.Update(func(st *State) error {
		ts.LastUpdated = s.now().UTC()
		st.ScanTourState = ts
		return nil
	})
}

// Reconcile сбрасывает в stopped обход, записанный как running/paused
// предыдущим процессом. Таймера после рестарта нет, верить такой записи нельзя.
func (s *Store) Reconcile() (bool, error) {
	changed := false
	err := s.Update(func(st *State) error {
		if !st.ScanTourState.Active() {
			return nil
		}
		log.Printf("[state] stale scan tour (%s) reset to stopped", st.ScanTourState.Status)
		st.ScanTourState = TourState{Status: TourStopped, LastUpdated: s.now().UTC()}
		changed = true
		return nil
	})
	return changed, err
}

func (s *Store) Presets() ([]Preset, error) {
	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	return st.Presets, nil
}

func (s *Store) Preset(id string) (Preset, bool, error) {
	st, err := s.Load()
	if err != nil {
		return Preset{}, false, err
	}
	for _, p := range st.Presets {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Preset{}, false, nil
}
