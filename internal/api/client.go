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

	"github.com/OCAP2/teachingmarkers/internal/orchestrator"
	"github.com/OCAP2/teachingmarkers/internal/relay"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// StatusError is a non-2xx answer from the admin API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("admin api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("admin api returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to a running server's admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Healthcheck checks if the admin API is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Frames returns the registry snapshot.
func (c *Client) Frames(ctx context.Context) ([]core.FrameEntry, error) {
	var out []core.FrameEntry
	err := c.do(ctx, http.MethodGet, "/frames", nil, &out)
	return out, err
}

// PutFrame inserts or replaces the frame for child.
func (c *Client) PutFrame(ctx context.Context, child string, req FrameRequest) error {
	return c.do(ctx, http.MethodPut, "/frames/"+child, req, nil)
}

// Markers returns the registered markers and their states.
func (c *Client) Markers(ctx context.Context) ([]orchestrator.MarkerInfo, error) {
	var out []orchestrator.MarkerInfo
	err := c.do(ctx, http.MethodGet, "/markers", nil, &out)
	return out, err
}

// CreateMarker registers a new marker.
func (c *Client) CreateMarker(ctx context.Context, spec core.MarkerSpec) error {
	return c.do(ctx, http.MethodPost, "/markers", spec, nil)
}

// SendFeedback injects a feedback event for the named marker.
func (c *Client) SendFeedback(ctx context.Context, name string, req FeedbackRequest) error {
	return c.do(ctx, http.MethodPost, "/markers/"+name+"/feedback", req, nil)
}

// RelayStats returns the relay counters.
func (c *Client) RelayStats(ctx context.Context) (relay.Stats, error) {
	var out relay.Stats
	err := c.do(ctx, http.MethodGet, "/relay/stats", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			se.Code = er.Code
			se.Message = er.Message
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
