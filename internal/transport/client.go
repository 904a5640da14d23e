// Package transport implements the HTTP client for the collector API: batch
// event delivery plus the project existence/create calls used by bootstrap.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apptracker/apptracker-go/internal/event"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4 * 1024
)

// StatusError is returned when the collector answers with a non-2xx status.
// The truncated response body is carried for logging; callers treat any
// StatusError as a transient delivery failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one collector base URL. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a collector client. baseURL must be an absolute http(s)
// URL; a trailing slash is added when missing.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendBatch delivers a batch of events under the given project key. A non-2xx
// response is returned as *StatusError; the rows behind these events stay in
// the durable store until the caller sees a nil error.
func (c *Client) SendBatch(ctx context.Context, projectKey string, events []event.Event) (*BatchResponse, error) {
	req := BatchRequest{ProjectKey: projectKey, Events: events}

	var resp BatchResponse
	if err := c.post(ctx, "v1/events/batch", req, &resp); err != nil {
		return nil, err
	}

	slog.Debug("[Transport] Batch delivered",
		"events", len(events),
		"received", resp.Received,
		"inserted", resp.Inserted,
	)
	return &resp, nil
}

// GetProjects lists projects, optionally filtered by project key. Used by
// bootstrap for the existence check.
func (c *Client) GetProjects(ctx context.Context, projectKey string) (*ProjectsResponse, error) {
	path := "v1/projects"
	if projectKey != "" {
		path += "?projectKey=" + url.QueryEscape(projectKey)
	}

	var resp ProjectsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateProject registers a new project and returns it with its issued key.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	var resp Project
	if err := c.post(ctx, "v1/projects", CreateProjectRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
