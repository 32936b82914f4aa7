package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin HTTP client for the desktop status API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given address (host:port or URL).
func NewClient(addr string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(addr),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NormalizeBaseURL adds http:// when addr has no scheme.
func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Status fetches the last tick.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, "/api/v1/status", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Sessions fetches the closed-session history.
func (c *Client) Sessions(ctx context.Context) (SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.getJSON(ctx, "/api/v1/sessions", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Usage fetches the data usage summary for a window such as "24h".
func (c *Client) Usage(ctx context.Context, window string) (UsageResponse, error) {
	var resp UsageResponse
	endpoint := "/api/v1/usage"
	if window != "" {
		endpoint += "?window=" + url.QueryEscape(window)
	}
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}
