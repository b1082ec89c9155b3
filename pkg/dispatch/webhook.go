// Package dispatch pushes finished decisions to a downstream webhook.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Notification is the payload pushed downstream for a dispatchable decision.
type Notification struct {
	CorrelationID  string         `json:"correlation_id"`
	Action         string         `json:"action"`
	Target         string         `json:"target"`
	IncidentType   string         `json:"incident_type"`
	Urgency        string         `json:"urgency"`
	Location       string         `json:"location"`
	Confidence     float64        `json:"confidence"`
	ReasoningTrace string         `json:"reasoning_trace"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Pusher delivers notifications.
type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// Option configures the webhook pusher.
type Option func(*webhookPusher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *webhookPusher) {
		p.http = hc
	}
}

// WithMaxAttempts overrides the delivery attempt count.
func WithMaxAttempts(n int) Option {
	return func(p *webhookPusher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

type webhookPusher struct {
	url         string
	maxAttempts int
	http        *http.Client
}

// NewWebhookPusher creates a pusher targeting url.
func NewWebhookPusher(url string, timeout time.Duration, opts ...Option) Pusher {
	p := &webhookPusher{
		url:         url,
		maxAttempts: 3,
		http:        &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// Push posts the notification, retrying transient failures with exponential
// backoff. A 2xx response is success; 4xx other than 429 fails immediately.
func (p *webhookPusher) Push(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "dispatch: marshal notification")
	}

	backoff := 1 * time.Second
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "dispatch: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", n.CorrelationID)

		resp, err := p.http.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = eris.Errorf("dispatch: status %d: %s", resp.StatusCode, string(body))
			if !retryableStatusCode(resp.StatusCode) {
				return lastErr
			}
		} else {
			lastErr = eris.Wrap(err, "dispatch: request failed")
		}

		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return lastErr
}
