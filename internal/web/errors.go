package web

import (
	"errors"
	"net/http"

	"ptzgate/internal/camera"
	"ptzgate/internal/pelco"
	"ptzgate/internal/preset"
	"ptzgate/internal/registry"
	"ptzgate/internal/regulator"
	"ptzgate/internal/scantour"
	"ptzgate/internal/tty"
)

var errBadJSON = errors.New("invalid json")

func statusFor(err error) int {
	var se *camera.StatusError
	switch {
	case errors.Is(err, registry.ErrUnknownCamera),
		errors.Is(err, preset.ErrNotFound),
		errors.Is(err, scantour.ErrNoPreset):
		return http.StatusNotFound
	case errors.Is(err, errBadJSON),
		errors.Is(err, preset.ErrInvalid),
		errors.Is(err, scantour.ErrInvalid),
		errors.Is(err, pelco.ErrRawLength),
		errors.Is(err, pelco.ErrRawSync),
		errors.Is(err, pelco.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, regulator.ErrBusy),
		errors.Is(err, scantour.ErrTourActive),
		errors.Is(err, scantour.ErrNoTour),
		errors.Is(err, scantour.ErrNotRunning),
		errors.Is(err, scantour.ErrNotPaused),
		errors.Is(err, preset.ErrSlotsExhausted),
		errors.Is(err, preset.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, tty.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, regulator.ErrInitialRead), errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
