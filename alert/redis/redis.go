// Package redis fans build, deploy and failure notifications out to UI
// subscribers over Redis pub/sub. Each notification is one JSON message on
// the alert channel, or on a per-kind channel such as "stagehand:alerts:build"
// when PerKind is set. Connection errors are retried with exponential backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/stagehand/alert"
	"github.com/pithecene-io/stagehand/types"
)

// DefaultChannel is the default alert channel.
const DefaultChannel = "stagehand:alerts"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis alert sink.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the alert channel (default: stagehand:alerts).
	Channel string
	// PerKind publishes each notification on Channel + ":" + kind so
	// subscribers can listen for build or database events only.
	PerKind bool
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Sink publishes notifications to alert subscribers.
type Sink struct {
	config Config
	client *goredis.Client
}

// New creates a Redis alert sink. Returns an error if the URL is empty or
// invalid.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("alert publish: redis URL is required")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("alert publish: invalid redis URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("alert publish: retries must be >= 0, got %d", cfg.Retries)
	}

	return &Sink{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends n to its channel. Having no subscribers is not an error.
func (s *Sink) Publish(ctx context.Context, n *types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("alert publish: encode %s notification: %w", n.Kind, err)
	}
	channel := s.Channel(n.Kind)

	var lastErr error
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("alert publish: %s notification to %s abandoned: %w", n.Kind, channel, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("alert publish: %s notification to %s abandoned during backoff: %w", n.Kind, channel, ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		lastErr = s.client.Publish(publishCtx, channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("alert publish: %s notification to %s failed after %d attempts: %w", n.Kind, channel, attempts, lastErr)
}

// Channel returns the channel notifications of kind are published on.
func (s *Sink) Channel(kind types.NotificationKind) string {
	if s.config.PerKind && kind != "" {
		return s.config.Channel + ":" + string(kind)
	}
	return s.config.Channel
}

// Close closes the Redis connection pool.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ alert.Sink = (*Sink)(nil)
