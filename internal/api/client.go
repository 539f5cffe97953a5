package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the daemon bound at bind (host:port). The
// token may be empty when the daemon does not require one.
func NewClient(bind, token string) *Client {
	base := strings.TrimSpace(bind)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the daemon snapshot.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.get(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics fetches pipeline counters and host health.
func (c *Client) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var out MetricsResponse
	if err := c.get(ctx, "/api/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts fetches up to limit recent health alerts.
func (c *Client) Alerts(ctx context.Context, limit int) (*AlertsResponse, error) {
	var out AlertsResponse
	if err := c.get(ctx, "/api/alerts", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecoveryHistory fetches up to limit recent recovery attempts.
func (c *Client) RecoveryHistory(ctx context.Context, limit int) (*RecoveryResponse, error) {
	var out RecoveryResponse
	if err := c.get(ctx, "/api/recovery", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Classifications fetches up to limit recent classification records.
func (c *Client) Classifications(ctx context.Context, limit int) (*ClassificationsResponse, error) {
	var out ClassificationsResponse
	if err := c.get(ctx, "/api/classifications", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events fetches up to limit recent system events.
func (c *Client) Events(ctx context.Context, limit int) (*EventsResponse, error) {
	var out EventsResponse
	if err := c.get(ctx, "/api/events", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause asks the daemon to pause sorting.
func (c *Client) Pause(ctx context.Context) (*ControlResponse, error) {
	return c.control(ctx, "/api/pause")
}

// Resume asks the daemon to resume sorting.
func (c *Client) Resume(ctx context.Context) (*ControlResponse, error) {
	return c.control(ctx, "/api/resume")
}

// Maintenance asks the daemon to enter maintenance mode.
func (c *Client) Maintenance(ctx context.Context) (*ControlResponse, error) {
	return c.control(ctx, "/api/maintenance")
}

func (c *Client) control(ctx context.Context, path string) (*ControlResponse, error) {
	var out ControlResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}
