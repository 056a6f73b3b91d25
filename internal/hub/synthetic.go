package hub

import (
	"context"
	"log"
	"math/rand"
	"time"

	"ptzgate/internal/telemetry"
)

// RunSynthetic раздаёт случайные кадры с заданным периодом, пока жив ctx.
// Нужен для проверки UI без реального источника телеметрии.
func (h *Hub) RunSynthetic(ctx context.Context, codec *telemetry.Codec, interval time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[hub] synthetic feed started, interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[hub] synthetic feed stopped")
			return
		case <-ticker.C:
			objs := codec.RandomObjects(rng, 5)
			h.Broadcast(&telemetry.Frame{
				Header:        telemetry.FrameHeader,
				ObjectCount:   len(objs),
				Objects:       objs,
				ChecksumValid: true,
			})
		}
	}
}
