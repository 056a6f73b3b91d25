package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ptzgate/internal/camera"
	"ptzgate/internal/pelco"
	"ptzgate/internal/preset"
	"ptzgate/internal/regulator"
	"ptzgate/internal/tty"
)

// decode читает JSON-тело; пустое тело не ошибка.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}

// /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	if s.d.Hub != nil {
		data["subscribers"] = s.d.Hub.Len()
	}
	if s.d.Tour != nil {
		data["scanTour"] = s.d.Tour.Status().Status
	}
	writeJSON(w, http.StatusOK, data)
}

// /api/v1/cameras
func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.d.Registry.List())
}

// /api/v1/cameras/{id}/status: разобранный getStatus камеры
func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cl, err := s.d.Registry.Client(id)
	if err != nil {
		writeError(w, err)
		return
	}
	text, err := cl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"cameraId": id, "status": camera.ParseKV(text)})
}

type convergeRequest struct {
	Target    *float64 `json:"target"`
	Tolerance *float64 `json:"tolerance"`
	MaxTries  *int     `json:"maxTries"`
	BurstMs   *int     `json:"burstMs"`
}

func (c convergeRequest) apply(req regulator.Request) regulator.Request {
	if c.Target != nil {
		req.Target = *c.Target
	}
	if c.Tolerance != nil {
		req.Tolerance = *c.Tolerance
	}
	if c.MaxTries != nil {
		req.MaxTries = *c.MaxTries
	}
	if c.BurstMs != nil {
		req.Burst = time.Duration(*c.BurstMs) * time.Millisecond
	}
	return req
}

// /api/v1/cameras/{id}/(zoom|focus)/converge
func (s *Server) handleConverge(act regulator.Actuator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var body convergeRequest
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
		res, err := s.converge(r, id, act, body.apply(s.d.RegulatorDefaults.Request(act.Name)))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, res)
	}
}

func (s *Server) converge(r *http.Request, cameraID string, act regulator.Actuator, req regulator.Request) (regulator.Result, error) {
	cl, err := s.d.Registry.Client(cameraID)
	if err != nil {
		return regulator.Result{}, err
	}
	release, err := s.d.Guard.Acquire(cameraID, act)
	if err != nil {
		return regulator.Result{}, err
	}
	defer release()
	return s.d.Regulator.Converge(r.Context(), cl, act, req)
}

type gotoResult struct {
	CameraID string            `json:"cameraId"`
	Preset   int               `json:"preset"`
	Zoom     *regulator.Result `json:"zoomResult"`
	Focus    *regulator.Result `json:"focusResult"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// /api/v1/cameras/{id}/preset/goto: переход на пресет камеры и доводка
// zoom/focus, если для номера заданы цели.
func (s *Server) handlePresetGoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Preset *int `json:"preset"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Preset == nil {
		writeError(w, fmt.Errorf("%w: field 'preset' is required", errBadJSON))
		return
	}
	cl, err := s.d.Registry.Client(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cl.GotoPreset(r.Context(), *body.Preset); err != nil {
		writeError(w, err)
		return
	}

	out := gotoResult{CameraID: id, Preset: *body.Preset}
	target, ok := s.d.PresetTargets[*body.Preset]
	if ok {
		run := func(act regulator.Actuator, value *float64) *regulator.Result {
			if value == nil {
				return nil
			}
			req := s.d.RegulatorDefaults.Request(act.Name)
			req.Target = *value
			res, err := s.converge(r, id, act, req)
			if err != nil {
				// ошибка доводки не отменяет сам переход
				if out.Errors == nil {
					out.Errors = map[string]string{}
				}
				out.Errors[act.Name] = err.Error()
				return nil
			}
			return &res
		}
		out.Zoom = run(regulator.Zoom, target.Zoom)
		out.Focus = run(regulator.Focus, target.Focus)
	}
	writeOK(w, out)
}

func (s *Server) handlePresetList(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Presets.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, list)
}

func (s *Server) handlePresetGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Presets.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, p)
}

func (s *Server) handlePresetCreate(w http.ResponseWriter, r *http.Request) {
	var req preset.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.d.Presets.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "data": p})
}

func (s *Server) handlePresetDelete(w http.ResponseWriter, r *http.Request) {
	// пресет активного обхода не удаляется (preset.ErrInUse -> 409), сначала stop
	p, err := s.d.Presets.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, p)
}

// /api/v1/presets/{id}/detection: отдать зоны пресета детектору
func (s *Server) handlePresetDetection(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Presets.StartDetection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"presetId": p.ID, "cameraId": p.CameraID, "zones": p.Rectangles})
}

func (s *Server) handleTourStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PresetID string   `json:"presetId"`
		PanStep  *float64 `json:"panStep"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.PresetID == "" {
		writeError(w, fmt.Errorf("%w: field 'presetId' is required", errBadJSON))
		return
	}
	p, err := s.d.Presets.Get(body.PresetID)
	if err != nil {
		writeError(w, err)
		return
	}
	step := s.d.PanStep
	if body.PanStep != nil {
		step = *body.PanStep
	}
	snap, err := s.d.Tour.Start(r.Context(), p, step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, snap)
}

func (s *Server) handleTourPause(w http.ResponseWriter, r *http.Request) {
	snap, err := s.d.Tour.Pause()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, snap)
}

func (s *Server) handleTourResume(w http.ResponseWriter, r *http.Request) {
	snap, err := s.d.Tour.Resume()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, snap)
}

func (s *Server) handleTourStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.d.Tour.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, snap)
}

func (s *Server) handleTourStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.d.Tour.Status())
}

func (s *Server) handlePelcoTypes(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"types":        append(pelco.Types(), pelco.TypeRaw),
		"defaultSpeed": pelco.DefaultSpeed,
		"enabled":      s.d.Serial != nil && s.d.Serial.Enabled(),
	})
}

// /api/v1/pelco: {type, speed} или {type:"raw", hex}
func (s *Server) handlePelco(w http.ResponseWriter, r *http.Request) {
	var cmd pelco.Command
	if err := decode(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if s.d.Serial == nil {
		writeError(w, tty.ErrDisabled)
		return
	}
	f, err := s.d.Serial.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"type": cmd.Type, "frame": f.String()})
}
