package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"ptzgate/internal/telemetry"
)

type Config struct {
	Listen          string // "0.0.0.0:5015"
	ProducerHost    string // куда слать handshake, он же фильтр источника
	ProducerPort    int
	Handshake       string
	FilterProducer  bool
	DropBadChecksum bool
	MulticastGroup  string // необязательно, например "239.0.0.1"
	Interface       string // интерфейс для multicast, пусто = по умолчанию
	CSVLog          string
}

// Publisher получает успешно разобранные кадры (hub.Hub).
type Publisher interface {
	Broadcast(f *telemetry.Frame)
}

// Receiver принимает кадры телеметрии по UDP и передаёт их в Publisher.
type Receiver struct {
	cfg   Config
	codec *telemetry.Codec
	pub   Publisher

	conn     net.PacketConn
	pc       *ipv4.PacketConn
	producer *net.UDPAddr
}

func New(cfg Config, codec *telemetry.Codec, pub Publisher) *Receiver {
	return &Receiver{cfg: cfg, codec: codec, pub: pub}
}

// Start открывает сокет и крутит цикл чтения до отмены ctx.
func (r *Receiver) Start(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Listen биндит сокет и один раз отправляет handshake источнику.
func (r *Receiver) Listen() error {
	conn, err := net.ListenPacket("udp4", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", r.cfg.Listen, err)
	}
	r.conn = conn
	r.pc = ipv4.NewPacketConn(conn)

	if err := r.pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		// на части платформ не поддерживается, работаем без cm
		log.Printf("[udp] control messages unavailable: %v", err)
	}

	if r.cfg.MulticastGroup != "" {
		if err := r.joinGroup(); err != nil {
			_ = conn.Close()
			return err
		}
	}

	if r.cfg.ProducerHost != "" {
		addr := net.JoinHostPort(r.cfg.ProducerHost, strconv.Itoa(r.cfg.ProducerPort))
		producer, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			log.Printf("[udp] cannot resolve producer %s: %v", addr, err)
		} else {
			r.producer = producer
			r.sendHandshake()
		}
	}

	log.Printf("[udp] telemetry receiver on %s (layout=%s)", conn.LocalAddr(), r.codec.Layout)
	return nil
}

func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Receiver) joinGroup() error {
	group := net.ParseIP(r.cfg.MulticastGroup)
	if group == nil {
		return fmt.Errorf("udp: bad multicast group %q", r.cfg.MulticastGroup)
	}
	var ifi *net.Interface
	if r.cfg.Interface != "" {
		var err error
		ifi, err = net.InterfaceByName(r.cfg.Interface)
		if err != nil {
			return fmt.Errorf("udp: interface %s: %w", r.cfg.Interface, err)
		}
	}
	if err := r.pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("udp: join %s: %w", group, err)
	}
	log.Printf("[udp] joined multicast group %s", group)
	return nil
}

func (r *Receiver) sendHandshake() {
	if r.cfg.Handshake == "" {
		return
	}
	if _, err := r.pc.WriteTo([]byte(r.cfg.Handshake), nil, r.producer); err != nil {
		log.Printf("[udp] handshake to %s failed: %v", r.producer, err)
		return
	}
	log.Printf("[udp] handshake sent to %s", r.producer)
}

func (r *Receiver) Serve(ctx context.Context) error {
	defer r.conn.Close()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_ = r.pc.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, cm, src, err := r.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		r.handleDatagram(data, src, cm)
	}
}

// handleDatagram возвращает true, если кадр ушёл подписчикам.
func (r *Receiver) handleDatagram(data []byte, src net.Addr, cm *ipv4.ControlMessage) bool {
	if r.cfg.FilterProducer && r.producer != nil {
		ua, ok := src.(*net.UDPAddr)
		if !ok || !ua.IP.Equal(r.producer.IP) {
			return false
		}
	}

	f, err := r.codec.Decode(data)
	if err != nil {
		log.Printf("[udp] drop %d bytes from %s%s: %v", len(data), src, describeDst(cm), err)
		return false
	}
	if !f.ChecksumValid {
		log.Printf("[udp] checksum mismatch from %s: got 0x%02X want 0x%02X", src, f.Checksum, telemetry.Checksum(data))
		if r.cfg.DropBadChecksum {
			return false
		}
	}

	if r.cfg.CSVLog != "" {
		if err := writeToCSV(r.cfg.CSVLog, src.String(), f); err != nil {
			log.Printf("[udp] csv: %v", err)
		}
	}

	r.pub.Broadcast(f)
	return true
}

func describeDst(cm *ipv4.ControlMessage) string {
	if cm == nil || cm.Dst == nil {
		return ""
	}
	return " to " + cm.Dst.String()
}
