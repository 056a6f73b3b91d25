package scantour

import (
	"time"

	"ptzgate/internal/state"
)

const TopicPrefix = "scantour/"

const (
	EventStarted  = "started"
	EventMovement = "movement"
	EventPaused   = "paused"
	EventResumed  = "resumed"
	EventStopped  = "stopped"
	EventError    = "error"
)

type Snapshot struct {
	Status       state.TourStatus `json:"status"`
	PresetID     string           `json:"presetId,omitempty"`
	CameraID     string           `json:"cameraId,omitempty"`
	PartnerID    string           `json:"partnerId,omitempty"`
	PanAngle     float64          `json:"currentPanAngle"`
	PanStep      float64          `json:"panStep,omitempty"`
	TiltAngle    float64          `json:"tiltAngle"`
	ZoomLevel    float64          `json:"zoomLevel"`
	TimeInterval float64          `json:"timeInterval,omitempty"`
}

type Event struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	CameraID string    `json:"cameraId,omitempty"`
	PresetID string    `json:"presetId,omitempty"`
	Error    string    `json:"error,omitempty"`
	Snapshot Snapshot  `json:"state"`
}

// Observer получает события обхода.
type Observer func(Event)

func (t *tour) snapshot() Snapshot {
	return Snapshot{
		Status:       t.status,
		PresetID:     t.preset.ID,
		CameraID:     t.cameraID,
		PartnerID:    t.partnerID,
		PanAngle:     t.angle,
		PanStep:      t.panStep,
		TiltAngle:    t.preset.TiltAngle,
		ZoomLevel:    t.preset.ZoomLevel,
		TimeInterval: t.preset.TimeInterval,
	}
}
