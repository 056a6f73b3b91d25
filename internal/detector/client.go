package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ptzgate/internal/state"
)

const DefaultBaseURL = "http://localhost:9898"

// Update: положение обходящей камеры и зоны, которые детектор должен смотреть.
type Update struct {
	Zones        []state.Rect `json:"zones"`
	PanAngle     float64      `json:"panAngle"`
	TiltAngle    float64      `json:"tiltAngle"`
	ZoomLevel    float64      `json:"zoomLevel"`
	TimeInterval float64      `json:"timeInterval"`
	CameraID     string       `json:"cameraId"`
}

// Client: HTTP API процесса детекции (ia_process).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) StartIntrusion(ctx context.Context, cameraID string, zones []state.Rect) error {
	if zones == nil {
		zones = []state.Rect{}
	}
	return c.post(ctx, intrusionPath(cameraID, "start"), map[string]any{"zones": zones})
}

func (c *Client) UpdateIntrusion(ctx context.Context, cameraID string, u Update) error {
	if u.Zones == nil {
		u.Zones = []state.Rect{}
	}
	return c.post(ctx, intrusionPath(cameraID, "update"), u)
}

func (c *Client) StopIntrusion(ctx context.Context, cameraID string) error {
	return c.post(ctx, intrusionPath(cameraID, "stop"), nil)
}

func intrusionPath(cameraID, action string) string {
	return "/ia_process/intrusion/" + url.PathEscape(cameraID) + "/" + action
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("detector %s: server returned status %d", path, resp.StatusCode)
	}

	log.Printf("[detector] %s ok", path)
	return nil
}
