// Package webhook delivers build, deploy and failure notifications to an
// HTTP endpoint as JSON. The notification kind and session travel in
// headers so a receiver can route without decoding the body. Server errors
// and network failures are retried with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/stagehand/alert"
	"github.com/pithecene-io/stagehand/iox"
	"github.com/pithecene-io/stagehand/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Routing headers set on every delivery.
const (
	HeaderKind    = "X-Stagehand-Kind"
	HeaderSession = "X-Stagehand-Session"
	HeaderAction  = "X-Stagehand-Action"
)

// Config configures the alert webhook.
type Config struct {
	// URL receives every notification (required).
	URL string
	// Headers are added to each delivery, e.g. an Authorization token.
	// They cannot override the routing headers.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Sink posts notifications to the alert webhook.
type Sink struct {
	config Config
	client *http.Client
}

// New creates an alert webhook sink. Returns an error if the URL is empty.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("alert webhook: URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("alert webhook: retries must be >= 0, got %d", cfg.Retries)
	}

	return &Sink{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish delivers n. Server errors and network failures are retried;
// a 4xx response means the receiver rejected the notification and is final.
func (s *Sink) Publish(ctx context.Context, n *types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("alert webhook: encode %s: %w", describe(n), err)
	}

	var lastErr error
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("alert webhook: %s abandoned: %w", describe(n), err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("alert webhook: %s abandoned during backoff: %w", describe(n), ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = s.post(ctx, n, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("alert webhook: receiver rejected %s: %w", describe(n), lastErr)
		}
	}

	return fmt.Errorf("alert webhook: %s undelivered after %d attempts: %w", describe(n), attempts, lastErr)
}

// describe names a notification in errors, e.g. "build notification for m1-action-2".
func describe(n *types.Notification) string {
	if n.ActionID == "" {
		return fmt.Sprintf("%s notification", n.Kind)
	}
	return fmt.Sprintf("%s notification for %s", n.Kind, n.ActionID)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("receiver answered %d", e.Code)
}

func (s *Sink) post(ctx context.Context, n *types.Notification, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKind, string(n.Kind))
	req.Header.Set(HeaderSession, n.SessionID)
	if n.ActionID != "" {
		req.Header.Set(HeaderAction, n.ActionID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections to the receiver.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var _ alert.Sink = (*Sink)(nil)
