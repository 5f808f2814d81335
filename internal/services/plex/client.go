package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flixor/internal/config"
	"flixor/internal/media"
	"flixor/internal/services"
)

const (
	userAgent      = "Flixor-Go/0.1.0"
	productName    = "Flixor"
	productVersion = "0.1.0"
)

// Service is the narrow media-source contract the download pipeline consumes.
// Implementations must be callable with credentials already resolved.
type Service interface {
	// ResolveStreamURL returns a direct playable URL for a catalog item.
	ResolveStreamURL(ctx context.Context, contentID string) (string, error)
	// ResolveImageURL returns a fetchable URL for a source image reference at
	// the requested width.
	ResolveImageURL(ctx context.Context, imageRef string, width int) (string, error)
	// ChapterMarkers returns intro/credits ranges for a catalog item.
	ChapterMarkers(ctx context.Context, contentID string) ([]media.ChapterMarker, error)
	// FetchImage streams a source image; used by the artwork localizer.
	FetchImage(ctx context.Context, imageRef string) (io.ReadCloser, error)
}

// Client talks to a Plex Media Server over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	imageWidth int
	clientID   string
	httpClient *http.Client
}

// NewClient builds a client from configuration. Returns ErrConfiguration when
// no server connection is configured, so enqueue can surface the failure
// before persisting anything.
func NewClient(cfg *config.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Plex.URL), "/")
	token := strings.TrimSpace(cfg.Plex.Token)
	if baseURL == "" || token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "plex", "new client", "no active server connection configured", nil)
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		imageWidth: cfg.Plex.ImageWidth,
		clientID:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		httpClient: &http.Client{Timeout: time.Duration(cfg.Plex.TimeoutSec) * time.Second},
	}, nil
}

type metadataContainer struct {
	MediaContainer struct {
		Metadata []struct {
			RatingKey string `json:"ratingKey"`
			Media     []struct {
				Part []struct {
					Key       string `json:"key"`
					Container string `json:"container"`
					Size      int64  `json:"size"`
				} `json:"Part"`
			} `json:"Media"`
			Marker []struct {
				Type            string `json:"type"`
				StartTimeOffset int64  `json:"startTimeOffset"`
				EndTimeOffset   int64  `json:"endTimeOffset"`
			} `json:"Marker"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// ResolveStreamURL resolves the first media part of a catalog item into a
// direct, token-authenticated download URL.
func (c *Client) ResolveStreamURL(ctx context.Context, contentID string) (string, error) {
	container, err := c.fetchMetadata(ctx, contentID, false)
	if err != nil {
		return "", err
	}
	for _, meta := range container.MediaContainer.Metadata {
		for _, m := range meta.Media {
			for _, part := range m.Part {
				if strings.TrimSpace(part.Key) == "" {
					continue
				}
				return fmt.Sprintf("%s%s?download=1&X-Plex-Token=%s", c.baseURL, part.Key, url.QueryEscape(c.token)), nil
			}
		}
	}
	return "", services.Wrap(services.ErrNotFound, "plex", "resolve stream url", fmt.Sprintf("no playable part for item %s", contentID), nil)
}

// ResolveImageURL routes a source image reference through the server's photo
// transcoder at the requested width.
func (c *Client) ResolveImageURL(ctx context.Context, imageRef string, width int) (string, error) {
	if strings.TrimSpace(imageRef) == "" {
		return "", services.Wrap(services.ErrNotFound, "plex", "resolve image url", "empty image reference", nil)
	}
	if width <= 0 {
		width = c.imageWidth
	}
	values := url.Values{}
	values.Set("width", strconv.Itoa(width))
	values.Set("height", strconv.Itoa(width))
	values.Set("minSize", "1")
	values.Set("url", imageRef)
	values.Set("X-Plex-Token", c.token)
	return fmt.Sprintf("%s/photo/:/transcode?%s", c.baseURL, values.Encode()), nil
}

// ChapterMarkers fetches intro/credits markers for offline skipping.
func (c *Client) ChapterMarkers(ctx context.Context, contentID string) ([]media.ChapterMarker, error) {
	container, err := c.fetchMetadata(ctx, contentID, true)
	if err != nil {
		return nil, err
	}
	var markers []media.ChapterMarker
	for _, meta := range container.MediaContainer.Metadata {
		for _, marker := range meta.Marker {
			markers = append(markers, media.ChapterMarker{
				StartMillis: marker.StartTimeOffset,
				EndMillis:   marker.EndTimeOffset,
				Kind:        marker.Type,
			})
		}
	}
	return markers, nil
}

// FetchImage streams the image behind a source reference, resolving it
// through the photo transcoder first.
func (c *Client) FetchImage(ctx context.Context, imageRef string) (io.ReadCloser, error) {
	imageURL, err := c.ResolveImageURL(ctx, imageRef, 0)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	c.applyHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) fetchMetadata(ctx context.Context, contentID string, includeMarkers bool) (*metadataContainer, error) {
	endpoint := fmt.Sprintf("%s/library/metadata/%s", c.baseURL, url.PathEscape(contentID))
	if includeMarkers {
		endpoint += "?includeMarkers=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "fetch metadata", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "plex", "fetch metadata", fmt.Sprintf("item %s not found", contentID), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.Wrap(services.ErrTransient, "plex", "fetch metadata",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var container metadataContainer
	if err := json.NewDecoder(resp.Body).Decode(&container); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}
	return &container, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", productName)
	req.Header.Set("X-Plex-Version", productVersion)
	req.Header.Set("X-Plex-Device-Name", productName)
	req.Header.Set("X-Plex-Platform", runtime.GOOS)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}
