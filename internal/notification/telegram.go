package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramNotifier posts reports to one chat through the Bot API, using
// MarkdownV2 formatting.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	retries  int
	backoff  time.Duration
}

// NewTelegramNotifier creates a Telegram notifier posting to chatID
// with the bot identified by botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
		retries:  2,
		backoff:  time.Second,
	}
}

// WithBaseURL points the notifier at another Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// WithRetry overrides the retry count and the first backoff.
func (t *TelegramNotifier) WithRetry(retries int, backoff time.Duration) *TelegramNotifier {
	t.retries, t.backoff = retries, backoff
	return t
}

func (t *TelegramNotifier) Name() string { return "telegram" }

var levelEmoji = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// format renders the MarkdownV2 message text.
func (t *TelegramNotifier) format(alert Alert) string {
	var b strings.Builder
	if e, ok := levelEmoji[alert.Level]; ok {
		b.WriteString(e + " ")
	}
	b.WriteString("*" + escapeMarkdown(alert.Title) + "*\n\n")
	b.WriteString(escapeMarkdown(alert.Message))
	if alert.Symbol != "" {
		b.WriteString("\n\n#" + escapeMarkdown(alert.Symbol))
	}
	return b.String()
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     t.format(alert),
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
	}
	err := withRetry(ctx, "telegram", t.retries, t.backoff, func() error {
		return postJSON(ctx, t.client, url, payload)
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] sent report: %s", alert.Title)
	return nil
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!"

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
