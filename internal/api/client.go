// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telemetryrush/replay/internal/control"
	"github.com/telemetryrush/replay/pkg/streaming"
)

const maxBody = 16 << 20

// Client talks to the playback server's request/response surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health is the playback server's health document.
type Health struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	DataLoaded struct {
		Telemetry   bool `json:"telemetry"`
		Endurance   bool `json:"endurance"`
		Leaderboard bool `json:"leaderboard"`
	} `json:"data_loaded"`
}

// Health fetches /api/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/api/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Healthcheck checks if the playback server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if h.Status != "healthy" {
		return fmt.Errorf("playback server status %q", h.Status)
	}
	return nil
}

// Telemetry fetches the latest telemetry document. It returns nil without
// error when the server has nothing to replay yet.
func (c *Client) Telemetry(ctx context.Context) (streaming.Message, error) {
	raw, err := c.get(ctx, "/api/telemetry")
	if err != nil {
		return nil, err
	}
	var env streaming.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding telemetry: %w", err)
	}
	if env.Type == "" {
		return nil, nil
	}
	return streaming.Decode(raw)
}

// Endurance fetches every lap event published so far.
func (c *Client) Endurance(ctx context.Context) ([]streaming.LapEvent, error) {
	var doc struct {
		Events []streaming.LapEvent `json:"events"`
	}
	if err := c.getJSON(ctx, "/api/endurance", &doc); err != nil {
		return nil, err
	}
	return doc.Events, nil
}

// Leaderboard fetches the current standings.
func (c *Client) Leaderboard(ctx context.Context) ([]streaming.LeaderboardEntry, error) {
	var doc struct {
		Leaderboard []streaming.LeaderboardEntry `json:"leaderboard"`
	}
	if err := c.getJSON(ctx, "/api/leaderboard", &doc); err != nil {
		return nil, err
	}
	return doc.Leaderboard, nil
}

// SubmitCommand posts a control command to /api/control.
func (c *Client) SubmitCommand(ctx context.Context, cmd control.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/control", data)
}

// Send posts an already encoded command. It lets a Client stand in for a
// control channel.
func (c *Client) Send(data []byte) error {
	return c.post(context.Background(), "/api/control", data)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	raw, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
