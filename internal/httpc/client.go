// Package httpc is a small client for the controller's JSON API.
// It always sets timeouts; never use http.DefaultClient against a device.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

var (
	// ErrBusy is returned when the controller's JSON buffer was taken.
	ErrBusy = errors.New("httpc: controller busy")

	// ErrStatus is returned for any other non-200 response.
	ErrStatus = errors.New("httpc: unexpected status")
)

// NewHTTPClient creates an HTTP client with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Client talks to one controller.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the controller at base, e.g. "http://10.0.0.5".
func New(base string) *Client {
	return &Client{base: base, http: NewHTTPClient(DefaultTimeout)}
}

// BaseURL derives the HTTP base URL from a WebSocket URL.
func BaseURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("httpc: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("httpc: unsupported scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

// Info returns the info section.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/json/info", nil, &out)
	return out, err
}

// State returns the state section.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/json/state", nil, &out)
	return out, err
}

// SetState applies a partial state document.
func (c *Client) SetState(ctx context.Context, state map[string]any) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("httpc: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/json/state", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpc: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpc: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return ErrBusy
	default:
		return fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpc: decode %s: %w", path, err)
	}
	return nil
}
