package bootstrap

import (
	"context"
	"errors"
	"log"
	"sync"

	"ptzgate/internal/adapters"
	"ptzgate/internal/adapters/udp"
	"ptzgate/internal/config"
	"ptzgate/internal/hub"
	"ptzgate/internal/registry"
	"ptzgate/internal/telemetry"
	"ptzgate/internal/tty"
)

type Deps struct {
	Config   *config.Config
	Registry *registry.Store
	Hub      *hub.Hub
	Codec    *telemetry.Codec
	Serial   *tty.Writer
}

// Adapters собирает фоновые подсистемы по конфигу.
func Adapters(d Deps) map[string]adapters.Adapter {
	cfg := d.Config
	list := map[string]adapters.Adapter{
		"udp": udp.New(cfg.Telemetry.UDP(), d.Codec, d.Hub),
	}
	if d.Serial != nil {
		list["tty"] = adapters.Func(d.Serial.Run)
	}
	if iv := cfg.Telemetry.SyntheticInterval; iv > 0 {
		list["synthetic"] = adapters.Func(func(ctx context.Context) error {
			d.Hub.RunSynthetic(ctx, d.Codec, iv)
			return nil
		})
	}
	return list
}

// RunAll запускает мониторинг камер и адаптеры, ждёт отмены ctx.
func RunAll(ctx context.Context, d Deps) error {
	interval := d.Config.MonitorInterval
	if interval > 0 {
		go d.Registry.StartMonitoring(ctx, interval)
		log.Printf("[Bootstrap] Camera monitoring started (interval: %s)", interval)
	}

	var wg sync.WaitGroup
	for name, a := range Adapters(d) {
		wg.Add(1)
		go func(name string, a adapters.Adapter) {
			defer wg.Done()
			log.Printf("[Bootstrap] adapter %s started", name)
			if err := a.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[Bootstrap] adapter %s stopped: %v", name, err)
			}
		}(name, a)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}
