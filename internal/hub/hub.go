package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ptzgate/internal/telemetry"
)

const (
	TypeConnected    = "connected"
	TypeTrackingData = "tracking_data"

	connectedMessage = "Connected to object tracking stream"

	defaultQueueSize = 64
	// подписчик, у которого очередь переполнена столько раз подряд, отключается
	maxMissed = 16
)

type Envelope struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

type trackingData struct {
	Header      uint8              `json:"header"`
	ObjectCount int                `json:"objectCount"`
	CRCValid    bool               `json:"crcValid"`
	Objects     []telemetry.Object `json:"objects"`
}

// Subscriber: одна подписка на поток трекинга. Транспорт (websocket)
// читает из C() и вызывает Close() при ошибке записи.
type Subscriber struct {
	ID string

	hub    *Hub
	q      chan []byte
	done   chan struct{}
	once   sync.Once
	missed int
}

func (s *Subscriber) C() <-chan []byte { return s.q }

// Done закрывается, когда подписка удалена из хаба.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Close() { s.hub.remove(s.ID) }

type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	now       func() time.Time
}

func New() *Hub {
	return &Hub{
		subs:      map[string]*Subscriber{},
		queueSize: defaultQueueSize,
		now:       time.Now,
	}
}

// Subscribe регистрирует подписчика; первым сообщением в очереди будет "connected".
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:   uuid.NewString(),
		hub:  h,
		q:    make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}
	hello, _ := json.Marshal(Envelope{
		Type:      TypeConnected,
		Message:   connectedMessage,
		Timestamp: h.now().UnixMilli(),
	})
	s.q <- hello

	h.mu.Lock()
	h.subs[s.ID] = s
	n := len(h.subs)
	h.mu.Unlock()

	log.Printf("[hub] subscriber %s connected, total=%d", s.ID, n)
	return s
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		s.once.Do(func() { close(s.done) })
		log.Printf("[hub] subscriber %s removed, total=%d", id, n)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast упаковывает кадр в конверт tracking_data и раздаёт всем подписчикам.
func (h *Hub) Broadcast(f *telemetry.Frame) {
	msg, err := json.Marshal(Envelope{
		Type:      TypeTrackingData,
		Timestamp: h.now().UnixMilli(),
		Data: trackingData{
			Header:      f.Header,
			ObjectCount: f.ObjectCount,
			CRCValid:    f.ChecksumValid,
			Objects:     f.Objects,
		},
	})
	if err != nil {
		log.Printf("[hub] marshal frame: %v", err)
		return
	}
	h.Publish(msg)
}

// Publish кладёт сообщение в очередь каждого подписчика, не блокируясь.
// Возвращает число подписчиков, получивших сообщение.
func (h *Hub) Publish(msg []byte) int {
	var stale []string
	delivered := 0

	h.mu.Lock()
	for id, s := range h.subs {
		select {
		case s.q <- msg:
			s.missed = 0
			delivered++
		default:
			// очередь заполнена, пропускаем сообщение для этого подписчика
			s.missed++
			if s.missed >= maxMissed {
				stale = append(stale, id)
			}
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		log.Printf("[hub] subscriber %s is not reading, dropping", id)
		h.remove(id)
	}
	return delivered
}
