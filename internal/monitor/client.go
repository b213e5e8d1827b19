package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	monitorapi "github.com/fyrsmithlabs/gravfit/internal/http"
)

// Client queries the monitor endpoint of a running fit.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the monitor at baseURL. A bare host:port
// is treated as an http URL.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the normalized monitor URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (monitorapi.HealthResponse, error) {
	var resp monitorapi.HealthResponse
	err := c.get(ctx, "/health", &resp)
	return resp, err
}

// Fits fetches the units of runID, or of every run when runID is empty.
func (c *Client) Fits(ctx context.Context, runID string) (monitorapi.FitsResponse, error) {
	path := "/api/v1/fits"
	if runID != "" {
		path += "/" + url.PathEscape(runID)
	}
	var resp monitorapi.FitsResponse
	err := c.get(ctx, path, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
