package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ptzgate/internal/config"
	"ptzgate/internal/events"
	"ptzgate/internal/hub"
	"ptzgate/internal/preset"
	"ptzgate/internal/registry"
	"ptzgate/internal/regulator"
	"ptzgate/internal/scantour"
	"ptzgate/internal/tty"
)

type Deps struct {
	Registry  *registry.Store
	Hub       *hub.Hub
	Events    events.Buffer
	Regulator *regulator.Regulator
	Guard     *regulator.Guard
	Presets   *preset.Service
	Tour      *scantour.Engine
	Serial    *tty.Writer

	RegulatorDefaults config.RegulatorConfig
	PresetTargets     map[int]config.PresetTarget
	PanStep           float64
}

type Server struct {
	http     *http.Server
	cfg      config.WebConfig
	d        Deps
	upgrader websocket.Upgrader
}

func New(cfg config.WebConfig, d Deps) *Server {
	s := &Server{
		cfg: cfg,
		d:   d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// UI открывается с другого origin, CORS и так "*"
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// без WriteTimeout: SSE, websocket и длинные циклы регулятора
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/cameras", s.handleCameras)
	mux.HandleFunc("GET /api/v1/cameras/{id}/status", s.handleCameraStatus)
	mux.HandleFunc("POST /api/v1/cameras/{id}/zoom/converge", s.handleConverge(regulator.Zoom))
	mux.HandleFunc("POST /api/v1/cameras/{id}/focus/converge", s.handleConverge(regulator.Focus))
	mux.HandleFunc("POST /api/v1/cameras/{id}/preset/goto", s.handlePresetGoto)

	mux.HandleFunc("GET /api/v1/presets", s.handlePresetList)
	mux.HandleFunc("POST /api/v1/presets", s.handlePresetCreate)
	mux.HandleFunc("GET /api/v1/presets/{id}", s.handlePresetGet)
	mux.HandleFunc("DELETE /api/v1/presets/{id}", s.handlePresetDelete)
	mux.HandleFunc("POST /api/v1/presets/{id}/detection", s.handlePresetDetection)

	mux.HandleFunc("POST /api/v1/scantour/start", s.handleTourStart)
	mux.HandleFunc("POST /api/v1/scantour/pause", s.handleTourPause)
	mux.HandleFunc("POST /api/v1/scantour/resume", s.handleTourResume)
	mux.HandleFunc("POST /api/v1/scantour/stop", s.handleTourStop)
	mux.HandleFunc("GET /api/v1/scantour/status", s.handleTourStatus)

	mux.HandleFunc("GET /api/v1/pelco", s.handlePelcoTypes)
	mux.HandleFunc("POST /api/v1/pelco", s.handlePelco)

	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventsStream)
	mux.HandleFunc("GET /ws/telemetry", s.handleTelemetryWS)

	return withCommonHeaders(logMiddleware(mux))
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Printf("[web] listening on http://%s", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shCtx); err != nil {
			log.Printf("[web] shutdown error: %v", err)
		} else {
			log.Printf("[web] stopped")
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS заголовки
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware пишет запрос с телом (imageData обрезается) и время обработки.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/telemetry" || r.URL.Path == "/api/v1/events/stream" {
			log.Printf("[web] >> %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		log.Printf("[web] >> %s %s from %s | len=%d %s", r.Method, r.URL.Path, r.RemoteAddr, len(body), truncate(body, 300))
		next.ServeHTTP(w, r)
		log.Printf("[web] << %s %s handled in %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "... [truncated]"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}
