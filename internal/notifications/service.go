package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flixor/internal/config"
)

const userAgent = "Flixor-Go/0.1.0"

// Service defines the push notification surface exposed to the download
// pipeline. Implementations must be safe for concurrent use.
type Service interface {
	NotifyDownloadCompleted(ctx context.Context, title string) error
	NotifyDownloadFailed(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		notifyCompleted: cfg.Notifications.Completed,
		notifyErrors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint        string
	client          *http.Client
	notifyCompleted bool
	notifyErrors    bool
}

func (n *ntfyService) NotifyDownloadCompleted(ctx context.Context, title string) error {
	if !n.notifyCompleted {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Flixor - Download Complete",
		message: fmt.Sprintf("Ready for offline playback: %s", title),
		tags:    []string{"flixor", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadFailed(ctx context.Context, title, reason string) error {
	if !n.notifyErrors {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Download failed: %s", title)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Flixor - Download Failed",
		message:  message,
		tags:     []string{"flixor", "download", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "Flixor - Test",
		message: "Notifications are configured correctly",
		tags:    []string{"flixor", "test"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyDownloadCompleted(context.Context, string) error   { return nil }
func (noopService) NotifyDownloadFailed(context.Context, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
