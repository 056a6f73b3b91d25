package config

import (
	"time"

	"ptzgate/internal/detector"
	"ptzgate/internal/regulator"
	"ptzgate/internal/tty"
)

func Defaults() *Config {
	return &Config{
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},

		Telemetry: TelemetryConfig{
			Listen:         "0.0.0.0:5015",
			ProducerHost:   "127.0.0.1",
			ProducerPort:   52383,
			Handshake:      "HELLO",
			FilterProducer: true,
			Layout:         "xyz",
		},

		CameraTimeout:   10 * time.Second,
		MonitorInterval: 5 * time.Second,

		Detector: DetectorConfig{
			BaseURL: detector.DefaultBaseURL,
			Timeout: 10 * time.Second,
		},

		Regulator: RegulatorConfig{
			Zoom:     Target{Target: 44, Tolerance: 1},
			Focus:    Target{Target: 25137, Tolerance: 200},
			MaxTries: regulator.DefaultMaxTries,
			Burst:    regulator.DefaultBurst,
			Settle:   regulator.DefaultSettle,
		},

		ScanTour: ScanTourConfig{
			PanStep:     10,
			StepTimeout: 10 * time.Second,
		},

		TTY: tty.Config{
			Enabled: false,
			Device:  tty.DefaultDevice,
			Address: 1,
			PortOptions: tty.PortOptions{
				BaudRate: tty.DefaultBaudRate,
				DataBits: 8,
				StopBits: 1,
				Parity:   "none",
			},
		},

		StatePath:    "./state/state.json",
		EventsBuffer: 1024,
	}
}
