package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ptzgate/internal/bootstrap"
	"ptzgate/internal/config"
	"ptzgate/internal/detector"
	"ptzgate/internal/events"
	"ptzgate/internal/hub"
	"ptzgate/internal/preset"
	"ptzgate/internal/registry"
	"ptzgate/internal/regulator"
	"ptzgate/internal/scantour"
	"ptzgate/internal/state"
	"ptzgate/internal/tty"
	"ptzgate/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to yaml config")
	flag.Parse()

	log.Printf("start Load config")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. state.json: обход после рестарта не восстанавливаем
	st, err := state.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("state: %v", err)
	}
	if changed, err := st.Reconcile(); err != nil {
		log.Fatalf("state: %v", err)
	} else if changed {
		log.Printf("[state] stale scan tour state reset to stopped")
	}

	// 2. Реестр камер из конфига
	reg := registry.NewStore(cfg.CameraTimeout)
	for _, c := range cfg.Cameras {
		reg.Add(c)
	}
	cams := bootstrap.Cameras{Store: reg}

	codec, err := cfg.Telemetry.Codec()
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	serial, err := tty.NewWriter(cfg.TTY)
	if err != nil {
		log.Fatalf("tty: %v", err)
	}

	evbuf := events.NewRing(cfg.EventsBuffer)
	hb := hub.New()
	det := detector.NewClient(cfg.Detector.BaseURL, cfg.Detector.Timeout)

	rg := regulator.New()
	rg.Settle = cfg.Regulator.Settle

	tour := scantour.New(scantour.Config{
		Cameras:     cams,
		Backend:     det,
		Store:       st,
		Presets:     st,
		Events:      evbuf,
		StepTimeout: cfg.ScanTour.StepTimeout,
	})

	presets := preset.NewService(st, cams, det)
	presets.InUse = tour.UsesPreset

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Printf("[cfg] web host=%q port=%d, telemetry=%s layout=%s, cameras=%d",
		cfg.Web.Host, cfg.Web.Port, cfg.Telemetry.Listen, codec.Layout, len(cfg.Cameras))

	webSrv := web.New(cfg.Web, web.Deps{
		Registry:          reg,
		Hub:               hb,
		Events:            evbuf,
		Regulator:         rg,
		Guard:             regulator.NewGuard(),
		Presets:           presets,
		Tour:              tour,
		Serial:            serial,
		RegulatorDefaults: cfg.Regulator,
		PresetTargets:     cfg.PresetTargets,
		PanStep:           cfg.ScanTour.PanStep,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return webSrv.Start(gctx) })
	g.Go(func() error {
		err := bootstrap.RunAll(gctx, bootstrap.Deps{
			Config:   cfg,
			Registry: reg,
			Hub:      hb,
			Codec:    codec,
			Serial:   serial,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// активный обход гасим, чтобы детектор получил stop
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if _, err := tour.Stop(stopCtx); err != nil && !errors.Is(err, scantour.ErrNoTour) {
			log.Printf("[scantour] stop on shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Printf("ptzgate stopped")
}
