package notification

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Host     string // SMTP host, e.g. "smtp.example.com"
	Port     int    // 0 = 587
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends alerts as plain-text e-mail over SMTP.
type EmailNotifier struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an SMTP notifier. Auth is PLAIN when a
// username is configured.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailNotifier{cfg: cfg, send: smtp.SendMail}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, alert Alert) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("email: no recipients")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))
	msg := e.message(alert)

	// smtp.SendMail has no context; run it aside and stop waiting on cancel.
	done := make(chan error, 1)
	go func() { done <- e.send(addr, auth, e.cfg.From, e.cfg.To, msg) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: send: %w", err)
		}
	}

	log.Printf("[email] sent report to %d recipient(s): %s", len(e.cfg.To), alert.Title)
	return nil
}

func (e *EmailNotifier) message(alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", alert.Level, alert.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(alert.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}
