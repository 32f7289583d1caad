package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Alert
	Source string `json:"source"`
	SentAt string `json:"ts"`
}

// WebhookNotifier posts each report as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewWebhookNotifier creates a webhook notifier that POSTs JSON to url.
// Failed deliveries are retried twice.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 2,
		backoff: time.Second,
	}
}

// WithRetry overrides the retry count and the first backoff.
func (w *WebhookNotifier) WithRetry(retries int, backoff time.Duration) *WebhookNotifier {
	w.retries, w.backoff = retries, backoff
	return w
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Alert:  alert,
		Source: "signalengine",
		SentAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	err := withRetry(ctx, "webhook", w.retries, w.backoff, func() error {
		return postJSON(ctx, w.client, w.url, payload)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] delivered %q", alert.Title)
	return nil
}
