package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// statusError is a non-2xx reply. 429 and 5xx are worth retrying.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// postJSON POSTs payload as JSON and fails on any non-2xx reply.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(snippet))}
	}
	return nil
}

// withRetry runs send up to retries+1 times with exponential backoff
// starting at base. Only transport errors and retryable statuses are
// retried.
func withRetry(ctx context.Context, channel string, retries int, base time.Duration, send func() error) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		lastErr = send()
		if lastErr == nil {
			return nil
		}
		if se, ok := lastErr.(*statusError); ok && !se.retryable() {
			return lastErr
		}
		if i == retries {
			break
		}
		backoff := base << uint(i)
		log.Printf("[%s] send failed (attempt %d/%d): %v, retrying in %v", channel, i+1, retries+1, lastErr, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%d attempts failed: %w", retries+1, lastErr)
}
