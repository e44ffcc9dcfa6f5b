// Package feed pulls live telemetry and weather from upstream HTTP JSON
// services.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/model"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	_ collect.TelemetrySource = (*Client)(nil)
	_ collect.WeatherSource   = (*Client)(nil)
)

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client is a thin JSON client for one upstream base URL.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchRealTime GETs {base}/trains/{id}/position.
func (c *Client) FetchRealTime(ctx context.Context, trainID string) (model.RealTimeData, error) {
	var d model.RealTimeData
	err := c.get(ctx, "/trains/"+url.PathEscape(trainID)+"/position", &d)
	return d, err
}

// FetchWeather GETs {base}/sections/{id}/weather.
func (c *Client) FetchWeather(ctx context.Context, sectionID string) (model.WeatherData, error) {
	var w model.WeatherData
	err := c.get(ctx, "/sections/"+url.PathEscape(sectionID)+"/weather", &w)
	return w, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
