package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ptzgate/internal/adapters/udp"
	"ptzgate/internal/registry"
	"ptzgate/internal/regulator"
	"ptzgate/internal/telemetry"
	"ptzgate/internal/tty"
)

const DefaultPath = "./configs/ptzgate.yml"

type Camera = registry.Camera

type WebConfig struct {
	Host string `yaml:"host"` // 0.0.0.0
	Port int    `yaml:"port"` // 8080
}

type TelemetryConfig struct {
	Listen          string `yaml:"listen"`
	ProducerHost    string `yaml:"producer_host"`
	ProducerPort    int    `yaml:"producer_port"`
	Handshake       string `yaml:"handshake"`
	FilterProducer  bool   `yaml:"filter_producer"`
	DropBadChecksum bool   `yaml:"drop_bad_checksum"`
	MulticastGroup  string `yaml:"multicast_group"`
	Interface       string `yaml:"interface"`
	CSVLog          string `yaml:"csv_log"`
	// xyz | bbox, по кадру не определяется
	Layout  string           `yaml:"layout"`
	Classes map[uint8]string `yaml:"classes"`
	// >0: публиковать случайные кадры без источника
	SyntheticInterval time.Duration `yaml:"synthetic_interval"`
}

func (t TelemetryConfig) UDP() udp.Config {
	return udp.Config{
		Listen:          t.Listen,
		ProducerHost:    t.ProducerHost,
		ProducerPort:    t.ProducerPort,
		Handshake:       t.Handshake,
		FilterProducer:  t.FilterProducer,
		DropBadChecksum: t.DropBadChecksum,
		MulticastGroup:  t.MulticastGroup,
		Interface:       t.Interface,
		CSVLog:          t.CSVLog,
	}
}

func (t TelemetryConfig) Codec() (*telemetry.Codec, error) {
	layout, ok := telemetry.ParseLayout(t.Layout)
	if !ok {
		return nil, fmt.Errorf("telemetry.layout: unknown layout %q", t.Layout)
	}
	return telemetry.NewCodec(layout, telemetry.NewClassTable(t.Classes)), nil
}

type DetectorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Target struct {
	Target    float64 `yaml:"target"`
	Tolerance float64 `yaml:"tolerance"`
}

type RegulatorConfig struct {
	Zoom     Target        `yaml:"zoom"`
	Focus    Target        `yaml:"focus"`
	MaxTries int           `yaml:"max_tries"`
	Burst    time.Duration `yaml:"burst"`
	Settle   time.Duration `yaml:"settle"`
}

// Request: запрос по умолчанию для актуатора ("zoom" или "focus").
func (r RegulatorConfig) Request(actuator string) regulator.Request {
	t := r.Zoom
	if actuator == regulator.Focus.Name {
		t = r.Focus
	}
	return regulator.Request{
		Target:    t.Target,
		Tolerance: t.Tolerance,
		MaxTries:  r.MaxTries,
		Burst:     r.Burst,
	}
}

type ScanTourConfig struct {
	PanStep     float64       `yaml:"pan_step"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// PresetTarget: куда доводить zoom/focus после перехода на пресет.
type PresetTarget struct {
	Zoom  *float64 `yaml:"zoom"`
	Focus *float64 `yaml:"focus"`
}

type Config struct {
	Web             WebConfig            `yaml:"web"`
	Telemetry       TelemetryConfig      `yaml:"telemetry"`
	Cameras         []Camera             `yaml:"cameras"`
	CameraTimeout   time.Duration        `yaml:"camera_timeout"`
	MonitorInterval time.Duration        `yaml:"monitor_interval"`
	Detector        DetectorConfig       `yaml:"detector"`
	Regulator       RegulatorConfig      `yaml:"regulator"`
	ScanTour        ScanTourConfig       `yaml:"scan_tour"`
	TTY             tty.Config           `yaml:"tty"`
	StatePath       string               `yaml:"state_path"`
	EventsBuffer    int                  `yaml:"events_buffer"`
	PresetTargets   map[int]PresetTarget `yaml:"preset_targets"`
}

// Load накладывает yaml-файл на Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultPath
	}

	wd, _ := os.Getwd()
	log.Printf("Load config: path=%s, wd=%s", path, wd)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	log.Printf("config loaded, cameras=%d", len(cfg.Cameras))
	for i, c := range cfg.Cameras {
		log.Printf("Config Camera %d: ID=%s, Name=%s, Host=%s, Partner=%s", i, c.ID, c.Name, c.Host, c.Partner)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, cam := range c.Cameras {
		if cam.ID == "" || cam.Host == "" {
			return fmt.Errorf("cameras[%d]: id and host are required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("cameras[%d]: duplicate id %q", i, cam.ID)
		}
		seen[cam.ID] = true
	}
	for _, cam := range c.Cameras {
		if cam.Partner != "" && !seen[cam.Partner] {
			return fmt.Errorf("camera %s: unknown partner %q", cam.ID, cam.Partner)
		}
	}
	if _, ok := telemetry.ParseLayout(c.Telemetry.Layout); !ok {
		return fmt.Errorf("telemetry.layout: unknown layout %q", c.Telemetry.Layout)
	}
	if c.StatePath == "" {
		return errors.New("state_path is required")
	}
	if c.Regulator.MaxTries <= 0 {
		return errors.New("regulator.max_tries must be positive")
	}
	if _, err := c.TTY.Normalize(); err != nil {
		return fmt.Errorf("tty: %w", err)
	}
	return nil
}
