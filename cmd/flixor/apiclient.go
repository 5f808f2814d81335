package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"flixor/internal/media"
	"flixor/internal/offline"
	"flixor/internal/state"
)

// apiClient talks to a running flixor daemon over its local control API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type healthInfo struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Time    string `json:"time"`
	Active  int    `json:"active"`
}

func (c *apiClient) Health(ctx context.Context) (*healthInfo, error) {
	var out healthInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ListDownloads(ctx context.Context) ([]*state.Snapshot, error) {
	var out []*state.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/downloads", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) Enqueue(ctx context.Context, payload any) (*state.Snapshot, error) {
	var out state.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/v1/downloads", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition posts one of pause, resume, cancel, retry for a global key.
func (c *apiClient) Transition(ctx context.Context, key, verb string) (*state.Snapshot, error) {
	var out state.Snapshot
	path := fmt.Sprintf("/api/v1/downloads/%s/%s", key, verb)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Remove(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/downloads/"+key, nil, nil)
}

func (c *apiClient) Queue(ctx context.Context) ([]media.QueueItem, error) {
	var out []media.QueueItem
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) Movies(ctx context.Context) ([]state.Movie, error) {
	var out []state.Movie
	if err := c.do(ctx, http.MethodGet, "/api/v1/views/movies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) Shows(ctx context.Context) ([]state.Show, error) {
	var out []state.Show
	if err := c.do(ctx, http.MethodGet, "/api/v1/views/shows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) OfflineList(ctx context.Context) ([]*offline.Item, error) {
	var out []*offline.Item
	if err := c.do(ctx, http.MethodGet, "/api/v1/offline", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error, baseURL string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `flixor daemon`", baseURL)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
