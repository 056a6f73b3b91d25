package events

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	Seq     uint64          `json:"seq"`
	Source  string          `json:"source"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

type Buffer interface {
	// Push присваивает событию Seq и возвращает его.
	Push(e Event) uint64
	// Pull возвращает до max событий с Seq > after по возрастанию.
	Pull(after uint64, max int) []Event
	Last() uint64
}

type ring struct {
	mu   sync.RWMutex
	data []Event
	size int
	seq  uint64
}

func NewRing(size int) Buffer {
	if size < 1 {
		size = 1
	}
	return &ring{data: make([]Event, 0, size), size: size}
}

func (r *ring) Push(e Event) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if len(r.data) == r.size {
		copy(r.data, r.data[1:])
		r.data = r.data[:len(r.data)-1]
	}
	r.data = append(r.data, e)
	return e.Seq
}

func (r *ring) Pull(after uint64, max int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// data отсортирован по Seq, ищем первое событие новее after
	start := len(r.data)
	for i := len(r.data) - 1; i >= 0 && r.data[i].Seq > after; i-- {
		start = i
	}
	end := len(r.data)
	if max > 0 && end-start > max {
		end = start + max
	}
	out := make([]Event, end-start)
	copy(out, r.data[start:end])
	return out
}

func (r *ring) Last() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}
