package bootstrap

import (
	"ptzgate/internal/preset"
	"ptzgate/internal/registry"
	"ptzgate/internal/scantour"
)

// Cameras отдаёт клиентов из реестра обходу и сервису пресетов.
type Cameras struct {
	*registry.Store
}

func (c Cameras) Positioner(id string) (scantour.Positioner, error) {
	cl, err := c.Client(id)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

func (c Cameras) PresetCamera(id string) (preset.Camera, error) {
	cl, err := c.Client(id)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

var (
	_ scantour.Cameras = Cameras{}
	_ preset.Cameras   = Cameras{}
)
