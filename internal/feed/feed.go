package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultURL is the 511.org SIRI StopMonitoring endpoint
const DefaultURL = "https://api.511.org/transit/StopMonitoring"

// ErrRateLimited is returned when the upstream answers 429
var ErrRateLimited = errors.New("upstream rate limited")

// maxErrorBody caps how much of a failed response is kept for the error message
const maxErrorBody = 512

// StatusError is an unexpected upstream status other than 429
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.Code, e.Body)
}

// Config holds what is needed to reach the upstream feed
type Config struct {
	URL     string
	APIKey  string
	Agency  string
	Timeout time.Duration
}

// Client fetches the whole StopMonitoring feed for one agency
type Client struct {
	url        string
	apiKey     string
	agency     string
	httpClient *http.Client
}

// NewClient creates a feed client.
// Empty fields fall back to the 511 endpoint, the CT agency and a 10s timeout.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Agency == "" {
		cfg.Agency = "CT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		agency: cfg.Agency,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Fetch downloads and decodes the current stop visits
func (c *Client) Fetch(ctx context.Context) ([]MonitoredStopVisit, error) {
	body, err := c.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return resp.ServiceDelivery.StopMonitoringDelivery.MonitoredStopVisit, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("agency", c.agency)
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchFeed(ctx context.Context) ([]byte, error) {
	target, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	return body, nil
}
