package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier posts notifications to an HTTP endpoint. Failed posts are
// retried with a linear backoff before the error is surfaced; callers treat
// delivery as best effort regardless.
type WebhookNotifier struct {
	client     *http.Client
	url        string
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client.Timeout = timeout
	}
}

// WithRetries configures retry behavior.
func WithRetries(maxRetries int, retryDelay time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		n.maxRetries = maxRetries
		n.retryDelay = retryDelay
	}
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, log zerolog.Logger, options ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		client:     &http.Client{Timeout: 10 * time.Second},
		url:        url,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		log:        log.With().Str("component", "webhook_notifier").Logger(),
	}
	for _, option := range options {
		option(n)
	}
	return n
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Debug().
				Uint("user_id", msg.UserID).
				Str("event", string(msg.Event)).
				Msg("notification delivered")
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// the endpoint rejected the payload, retrying won't help
			break
		}
	}
	return fmt.Errorf("failed to deliver notification after %d attempts: %w", n.maxRetries+1, lastErr)
}
