package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	ssePoll      = 500 * time.Millisecond
	sseHeartbeat = 15 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// /api/v1/events/stream: SSE из ring buffer. ?topic= фильтрует по префиксу,
// Last-Event-ID продолжает с указанного seq.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.d.Events == nil {
		http.Error(w, "events buffer not enabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	prefix := r.URL.Query().Get("topic")

	// без Last-Event-ID отдаём только новые события
	last := s.d.Events.Last()
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			last = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(": welcome\n\n"))
	flusher.Flush()

	poll := time.NewTicker(ssePoll)
	defer poll.Stop()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[web] sse: client disconnected")
			return

		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()

		case <-poll.C:
			evs := s.d.Events.Pull(last, 100)
			if len(evs) == 0 {
				continue
			}
			last = evs[len(evs)-1].Seq
			for _, e := range evs {
				if prefix != "" && !strings.HasPrefix(e.Topic, prefix) {
					continue
				}
				data, err := json.Marshal(e)
				if err != nil {
					log.Printf("[web] sse: marshal error: %v", err)
					continue
				}
				_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Topic, data)
			}
			flusher.Flush()
		}
	}
}

// /ws/telemetry: подписчик хаба телеметрии. Первое сообщение "connected",
// дальше "tracking_data". Входящие сообщения игнорируются.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[web] ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.d.Hub.Subscribe()
	defer sub.Close()
	log.Printf("[web] ws subscriber %s connected from %s", sub.ID, r.RemoteAddr)

	// читать нужно, иначе не обработаются close/pong
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[web] ws subscriber %s write: %v", sub.ID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-sub.Done():
			log.Printf("[web] ws subscriber %s dropped by hub", sub.ID)
			return
		case <-readDone:
			log.Printf("[web] ws subscriber %s disconnected", sub.ID)
			return
		}
	}
}
