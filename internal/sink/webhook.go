package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/idgen"
)

// Headers set on every webhook delivery. The delivery id is the same on
// every attempt of one message so receivers can drop duplicates.
const (
	HeaderKind     = "X-Shadowtap-Kind"
	HeaderDelivery = "X-Shadowtap-Delivery"
)

// errPermanent marks responses that retrying cannot fix.
var errPermanent = errors.New("webhook: rejected")

// Webhook POSTs each message as JSON. Transport errors, 5xx, 408 and 429
// are retried with a doubling backoff; any other 4xx fails at once.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	ids     idgen.Generator
	logger  *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed delivery is retried.
// Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client (10s timeout by default).
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		ids:     idgen.Default,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, msg event.Message) error {
	body, err := event.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	delivery := w.ids()

	var lastErr error
	for attempt := 1; attempt <= w.retries+1; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, w.backoff<<(attempt-2)); err != nil {
				return err
			}
		}
		lastErr = w.post(ctx, msg.Type, delivery, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) {
			w.logger.Warn("webhook: delivery rejected", "kind", msg.Type, "delivery", delivery, "error", lastErr)
			return lastErr
		}
		w.logger.Warn("webhook: delivery failed", "kind", msg.Type, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

func (w *Webhook) post(ctx context.Context, kind event.Kind, delivery string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKind, string(kind))
	req.Header.Set(HeaderDelivery, delivery)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("webhook: status %d", code)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, code)
	}
}

func (w *Webhook) Close() error { return nil }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
