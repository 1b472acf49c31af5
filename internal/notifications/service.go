package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newsreel/internal/config"
)

const userAgent = "Newsreel-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyItemAdmitted(ctx context.Context, tenant, title string) error
	NotifyStageFailure(ctx context.Context, tenant, title, stage string, err error) error
	NotifyUploadCompleted(ctx context.Context, tenant, title, url string) error
	NotifyUploadDeferred(ctx context.Context, tenant, title string) error
	NotifyRegeneration(ctx context.Context, tenant, title string, attempt int) error
	NotifyBacklogAlert(ctx context.Context, tenant string, failedCount int) error
	NotifyDeadLetter(ctx context.Context, topic, itemID string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.Topic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
		settings: cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

func (n *ntfyService) NotifyItemAdmitted(ctx context.Context, tenant, title string) error {
	if !n.settings.Admission {
		return nil
	}
	data := payload{
		title:   "Newsreel - Admitted",
		message: fmt.Sprintf("Admitted for %s: %s", strings.TrimSpace(tenant), strings.TrimSpace(title)),
		tags:    []string{"newsreel", "admission"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStageFailure(ctx context.Context, tenant, title, stage string, err error) error {
	if !n.settings.StageFailures {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "Newsreel - Stage Failed",
		message:  fmt.Sprintf("%s failed at %s for %s: %s", strings.TrimSpace(title), stage, strings.TrimSpace(tenant), detail),
		tags:     []string{"newsreel", "failure", stage},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUploadCompleted(ctx context.Context, tenant, title, url string) error {
	if !n.settings.Uploads {
		return nil
	}
	message := fmt.Sprintf("Published for %s: %s", strings.TrimSpace(tenant), strings.TrimSpace(title))
	if url = strings.TrimSpace(url); url != "" {
		message = fmt.Sprintf("%s\n%s", message, url)
	}
	data := payload{
		title:    "Newsreel - Published",
		message:  message,
		tags:     []string{"newsreel", "upload", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUploadDeferred(ctx context.Context, tenant, title string) error {
	if !n.settings.Uploads {
		return nil
	}
	data := payload{
		title:   "Newsreel - Upload Deferred",
		message: fmt.Sprintf("Quota exhausted for %s, deferring: %s", strings.TrimSpace(tenant), strings.TrimSpace(title)),
		tags:    []string{"newsreel", "upload", "quota"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRegeneration(ctx context.Context, tenant, title string, attempt int) error {
	if !n.settings.StageFailures {
		return nil
	}
	data := payload{
		title:   "Newsreel - Regenerating",
		message: fmt.Sprintf("Regeneration %d for %s: %s", attempt, strings.TrimSpace(tenant), strings.TrimSpace(title)),
		tags:    []string{"newsreel", "regeneration"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBacklogAlert(ctx context.Context, tenant string, failedCount int) error {
	if !n.settings.Backlog {
		return nil
	}
	data := payload{
		title:    "Newsreel - Failure Backlog",
		message:  fmt.Sprintf("%d failed items for %s need attention", failedCount, strings.TrimSpace(tenant)),
		tags:     []string{"newsreel", "backlog", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeadLetter(ctx context.Context, topic, itemID string) error {
	if !n.settings.StageFailures {
		return nil
	}
	data := payload{
		title:    "Newsreel - Dead Letter",
		message:  fmt.Sprintf("Event parked on %s for item %s", topic, itemID),
		tags:     []string{"newsreel", "dead-letter", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Newsreel - Test",
		message:  "Notification system test",
		tags:     []string{"newsreel", "test"},
		priority: "low",
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
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyItemAdmitted(context.Context, string, string) error              { return nil }
func (noopService) NotifyStageFailure(context.Context, string, string, string, error) error {
	return nil
}
func (noopService) NotifyUploadCompleted(context.Context, string, string, string) error { return nil }
func (noopService) NotifyUploadDeferred(context.Context, string, string) error          { return nil }
func (noopService) NotifyRegeneration(context.Context, string, string, int) error       { return nil }
func (noopService) NotifyBacklogAlert(context.Context, string, int) error               { return nil }
func (noopService) NotifyDeadLetter(context.Context, string, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
