// Package tty отправляет кадры Pelco-D в последовательный порт.
package tty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"ptzgate/internal/pelco"
)

var ErrDisabled = errors.New("serial ptz is disabled")

const (
	writeAttempts = 3
	minBackoff    = time.Second
	maxBackoff    = 10 * time.Second
)

type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Device      string `yaml:"device"`
	Address     uint8  `yaml:"address"` // адрес камеры Pelco-D (1..255)
	PortOptions `yaml:",inline"`
}

// Port: то, что нужно от открытого порта. serial.Port подходит.
type Port interface {
	io.Writer
	io.Closer
}

type Opener func(path string, mode *serial.Mode) (Port, error)

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Writer держит порт открытым и переоткрывает его после ошибки записи.
// Ответ камеры не читается.
type Writer struct {
	cfg  Config
	mode *serial.Mode
	open Opener

	mu        sync.Mutex
	port      Port
	retryBase time.Duration
	backoff   time.Duration
}

func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Address == 0 {
		cfg.Address = 1
	}
	mode, err := cfg.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("tty: %w", err)
	}
	return &Writer{cfg: cfg, mode: mode, open: openSerial, retryBase: minBackoff, backoff: minBackoff}, nil
}

func (w *Writer) Address() uint8 { return w.cfg.Address }

func (w *Writer) Enabled() bool { return w.cfg.Enabled }

// Execute кодирует команду адресом из конфига и отправляет кадр.
func (w *Writer) Execute(ctx context.Context, cmd pelco.Command) (pelco.Frame, error) {
	f, err := pelco.Encode(w.cfg.Address, cmd)
	if err != nil {
		return f, err
	}
	return f, w.Send(ctx, f)
}

func (w *Writer) Send(ctx context.Context, f pelco.Frame) error {
	if !w.cfg.Enabled {
		return ErrDisabled
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.port == nil {
			if attempt > 0 {
				select {
				case <-time.After(w.backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				if w.backoff < maxBackoff {
					w.backoff *= 2
				}
			}
			p, err := w.open(w.cfg.Device, w.mode)
			if err != nil {
				lastErr = fmt.Errorf("tty: cannot open %s: %w", w.cfg.Device, err)
				log.Printf("[tty] %v", lastErr)
				continue
			}
			log.Printf("[tty] opened %s @ %d baud", w.cfg.Device, w.mode.BaudRate)
			w.port = p
			w.backoff = w.retryBase
		}

		if _, err := w.port.Write(f[:]); err != nil {
			lastErr = fmt.Errorf("tty: write %s: %w", f, err)
			log.Printf("[tty] %v, reopening", lastErr)
			_ = w.port.Close()
			w.port = nil
			continue
		}
		if d, ok := w.port.(interface{ Drain() error }); ok {
			if err := d.Drain(); err != nil {
				log.Printf("[tty] drain: %v", err)
			}
		}
		return nil
	}
	return lastErr
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.port == nil {
		return nil
	}
	err := w.port.Close()
	w.port = nil
	return err
}

// Run живёт до отмены ctx и закрывает порт на выходе.
func (w *Writer) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		log.Printf("[tty] disabled")
		<-ctx.Done()
		return nil
	}
	log.Printf("[tty] pelco-d on %s, address %d", w.cfg.Device, w.cfg.Address)
	<-ctx.Done()
	return w.Close()
}
