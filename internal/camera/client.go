package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
)

const (
	statusPath  = "/cgi-bin/ptz.cgi?action=getStatus"
	controlPath = "/cgi-bin/ptz.cgi"
)

// Коды команд ptz.cgi.
const (
	CodeZoomTele    = "ZoomTele"
	CodeZoomWide    = "ZoomWide"
	CodeFocusNear   = "FocusNear"
	CodeFocusFar    = "FocusFar"
	CodePositionABS = "PositionABS"
	CodeGotoPreset  = "GotoPreset"
	CodeSetPreset   = "SetPreset"
	CodeClearPreset = "ClearPreset"
)

type Config struct {
	ID       string
	Host     string // ip или ip:port
	Username string
	Password string
	Channel  int
	Timeout  time.Duration
}

// StatusError: камера ответила не 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("camera returned status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Client: CGI-интерфейс PTZ камеры (HTTP + digest auth).
type Client struct {
	id         string
	baseURL    string
	channel    int
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := cfg.Host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	hc := &http.Client{Timeout: timeout}
	if cfg.Username != "" {
		// challenge кешируется по хосту, nc растёт от запроса к запросу
		hc.Transport = &digest.Transport{Username: cfg.Username, Password: cfg.Password}
	}
	return &Client{
		id:         cfg.ID,
		baseURL:    strings.TrimRight(base, "/"),
		channel:    cfg.Channel,
		httpClient: hc,
	}
}

func (c *Client) ID() string { return c.id }

// Status возвращает сырой текст getStatus (строки key=value).
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.get(ctx, statusPath)
}

// Control отправляет action=start|stop с кодом и тремя аргументами.
func (c *Client) Control(ctx context.Context, action, code string, arg1, arg2, arg3 float64) (string, error) {
	// порядок параметров важен для части прошивок, url.Values его не держит
	path := fmt.Sprintf("%s?action=%s&channel=%d&code=%s&arg1=%s&arg2=%s&arg3=%s", controlPath,
		url.QueryEscape(action), c.channel, url.QueryEscape(code), formatArg(arg1), formatArg(arg2), formatArg(arg3))

	body, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(body)
	if strings.HasPrefix(strings.ToLower(reply), "error") {
		return reply, fmt.Errorf("camera %s %s %s: %s", c.id, action, code, reply)
	}
	return reply, nil
}

// PositionAbsolute шлёт PositionABS: pan/tilt в градусах, zoom в единицах камеры.
func (c *Client) PositionAbsolute(ctx context.Context, pan, tilt, zoom float64) error {
	_, err := c.Control(ctx, "start", CodePositionABS, pan, tilt, zoom)
	return err
}

func (c *Client) GotoPreset(ctx context.Context, n int) error {
	_, err := c.Control(ctx, "start", CodeGotoPreset, 0, float64(n), 0)
	return err
}

func (c *Client) SetPreset(ctx context.Context, n int) error {
	_, err := c.Control(ctx, "start", CodeSetPreset, 0, float64(n), 0)
	return err
}

func (c *Client) ClearPreset(ctx context.Context, n int) error {
	_, err := c.Control(ctx, "start", CodeClearPreset, 0, float64(n), 0)
	return err
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("camera %s: %w", c.id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("camera %s: read body: %w", c.id, err)
	}
	if resp.StatusCode/100 != 2 {
		log.Printf("[camera] %s GET %s -> %d", c.id, path, resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

func formatArg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseKV разбирает ответ вида "key=value" построчно.
func ParseKV(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}
