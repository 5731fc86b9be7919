package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apiclient"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

// Webhook formats.
const (
	FormatDiscord = "discord"
	FormatSlack   = "slack"
)

// WebhookNotifier posts alerts to a chat webhook.
type WebhookNotifier struct {
	url    string
	format string
	api    *apiclient.Client
}

// NewWebhook builds a WebhookNotifier for a discord or slack incoming webhook.
// limiter may be nil.
func NewWebhook(url, format string, timeout time.Duration, limiter apiclient.Waiter) (*WebhookNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, apperr.Missing("alert.webhook_url")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatDiscord
	}
	if format != FormatDiscord && format != FormatSlack {
		return nil, &apperr.ConfigurationError{Field: "alert.format", Reason: fmt.Sprintf("unknown format %q", format)}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, format: format, api: apiclient.New("webhook", timeout, limiter)}, nil
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier. Any 2xx counts as delivered.
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(w.payload(a))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return w.api.Do(ctx, "post", req, nil)
}

func (w *WebhookNotifier) payload(a Alert) map[string]string {
	icon := "ℹ️"
	if a.Level == LevelError {
		icon = "🚨"
	}
	title := fmt.Sprintf("%s **%s**", icon, a.Title)
	key := "content"
	if w.format == FormatSlack {
		title = fmt.Sprintf("%s *%s*", icon, a.Title)
		key = "text"
	}
	var b strings.Builder
	b.WriteString(title)
	if a.Stage != "" {
		fmt.Fprintf(&b, "\nStage: %s", a.Stage)
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", a.At.UTC().Format(time.RFC3339))
	}
	if a.Detail != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```", a.Detail)
	}
	return map[string]string{key: b.String()}
}
