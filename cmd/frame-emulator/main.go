// cmd/frame-emulator/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ptzgate/internal/telemetry"
)

// emulator изображает процесс трекинга: ждёт handshake от ptzgate и шлёт
// ему кадры телеметрии на адрес, с которого handshake пришёл.
type emulator struct {
	conn      net.PacketConn
	codec     *telemetry.Codec
	handshake string
	maxObjs   int
	corrupt   float64
	rng       *rand.Rand

	mu   sync.Mutex
	peer net.Addr
}

func main() {
	var (
		listen    = flag.String("listen", "127.0.0.1:52383", "UDP address to wait for the handshake on")
		handshake = flag.String("handshake", "HELLO", "Expected handshake payload (empty = any)")
		target    = flag.String("target", "", "Send frames here without waiting for the handshake")
		layout    = flag.String("layout", "xyz", "Record layout: xyz | bbox")
		every     = flag.Duration("interval", 100*time.Millisecond, "Frame interval")
		jitterPct = flag.Float64("jitter", 0.2, "Jitter percent for intervals (0..1)")
		maxObjs   = flag.Int("objects", 5, "Max objects per frame")
		corrupt   = flag.Float64("corrupt", 0, "Share of frames sent with a broken checksum (0..1)")
	)
	flag.Parse()

	l, ok := telemetry.ParseLayout(*layout)
	if !ok {
		log.Fatalf("unknown layout %q", *layout)
	}

	conn, err := net.ListenPacket("udp4", *listen)
	if err != nil {
		log.Fatalf("listen %s: %v", *listen, err)
	}
	defer conn.Close()

	e := &emulator{
		conn:      conn,
		codec:     telemetry.NewCodec(l, nil),
		handshake: *handshake,
		maxObjs:   *maxObjs,
		corrupt:   *corrupt,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if *target != "" {
		addr, err := net.ResolveUDPAddr("udp4", *target)
		if err != nil {
			log.Fatalf("target %s: %v", *target, err)
		}
		e.setPeer(addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("frame-emulator started on %s layout=%s interval=%s", conn.LocalAddr(), l, *every)

	go e.acceptHandshakes(ctx)

	delay := *every
	for ctx.Err() == nil {
		peer := e.getPeer()
		if peer == nil {
			sleepWithJitter(200*time.Millisecond, 0)
			continue
		}
		if err := e.sendFrame(peer); err != nil {
			log.Printf("send to %s: %v", peer, err)
			delay = backoff(delay)
		} else {
			delay = *every
		}
		sleepWithJitter(delay, *jitterPct)
	}
	log.Printf("frame-emulator stopped")
}

func (e *emulator) acceptHandshakes(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		_ = e.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := e.conn.ReadFrom(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Printf("read: %v", err)
			continue
		}
		if e.handshake != "" && string(buf[:n]) != e.handshake {
			log.Printf("unexpected datagram from %s (%d bytes), ignoring", src, n)
			continue
		}
		log.Printf("handshake from %s, streaming frames", src)
		e.setPeer(src)
	}
}

func (e *emulator) sendFrame(peer net.Addr) error {
	frame := e.codec.Encode(e.codec.RandomObjects(e.rng, e.maxObjs))
	if e.corrupt > 0 && e.rng.Float64() < e.corrupt {
		frame[len(frame)-1] ^= 0xFF
	}
	_, err := e.conn.WriteTo(frame, peer)
	return err
}

func (e *emulator) setPeer(a net.Addr) {
	e.mu.Lock()
	e.peer = a
	e.mu.Unlock()
}

func (e *emulator) getPeer() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func sleepWithJitter(base time.Duration, pct float64) {
	if pct <= 0 {
		time.Sleep(base)
		return
	}
	delta := base.Seconds() * pct
	j := (rand.Float64()*2 - 1) * delta // [-pct..+pct]
	time.Sleep(time.Duration((base.Seconds() + j) * float64(time.Second)))
}

func backoff(base time.Duration) time.Duration {
	// простой backoff x2 до 10s
	b := base * 2
	if b > 10*time.Second {
		return 10 * time.Second
	}
	return b
}
