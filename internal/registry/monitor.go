package registry

import (
	"context"
	"log"
	"net"
	"net/url"
	"strings"
	"time"
)

// StartMonitoring периодически проверяет доступность камер.
func (s *Store) StartMonitoring(ctx context.Context, interval time.Duration) {
	s.checkCameras(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkCameras(ctx)
		}
	}
}

func (s *Store) checkCameras(ctx context.Context) {
	for _, cam := range s.List() {
		online := pingCamera(ctx, cam.Host)
		if cam.Online == online {
			continue
		}
		s.SetOnline(cam.ID, online)
		if online {
			log.Printf("[monitor] camera %s (%s) is ONLINE", cam.ID, cam.Host)
		} else {
			log.Printf("[monitor] camera %s (%s) is OFFLINE", cam.ID, cam.Host)
		}
	}
}

// pingCamera открывает TCP на HTTP-порт камеры.
func pingCamera(ctx context.Context, host string) bool {
	addr := dialAddr(host)
	if addr == "" {
		return false
	}
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func dialAddr(host string) string {
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return ""
		}
		host = u.Host
	}
	if host == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "80")
}
