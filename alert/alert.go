// Package alert defines the alert sink boundary.
//
// Sinks deliver notifications (generic alerts, build/deploy progress,
// database requests) to the UI or downstream systems. The runner never fails
// an action because a sink failed: Publisher logs and counts sink errors.
package alert

import (
	"context"
	"time"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/types"
)

// Sink delivers notifications to one destination.
type Sink interface {
	// Publish sends a notification. Must respect context cancellation.
	Publish(ctx context.Context, n *types.Notification) error

	// Close releases sink resources.
	Close() error
}

// Publisher stamps notifications with session identity and time and sends
// them to a Sink.
type Publisher struct {
	sink      Sink
	sessionID string
	logger    *log.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewPublisher creates a Publisher. logger and collector may be nil.
func NewPublisher(sink Sink, sessionID string, logger *log.Logger, collector *metrics.Collector) *Publisher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Publisher{
		sink:      sink,
		sessionID: sessionID,
		logger:    logger,
		metrics:   collector,
		now:       time.Now,
	}
}

// Alert publishes a generic alert.
func (p *Publisher) Alert(ctx context.Context, actionID string, a types.Alert) {
	p.publish(ctx, &types.Notification{Kind: types.NotificationAlert, ActionID: actionID, Alert: &a})
}

// Build publishes build/deploy progress.
func (p *Publisher) Build(ctx context.Context, actionID string, b types.BuildAlert) {
	p.publish(ctx, &types.Notification{Kind: types.NotificationBuild, ActionID: actionID, Build: &b})
}

// Database publishes a database migration or query notice.
func (p *Publisher) Database(ctx context.Context, actionID string, d types.DatabaseAlert) {
	p.publish(ctx, &types.Notification{Kind: types.NotificationDatabase, ActionID: actionID, Database: &d})
}

func (p *Publisher) publish(ctx context.Context, n *types.Notification) {
	if p == nil || p.sink == nil {
		return
	}
	n.Version = types.Version
	n.SessionID = p.sessionID
	n.Timestamp = p.now().UTC().Format(time.RFC3339Nano)

	if err := p.sink.Publish(ctx, n); err != nil {
		p.metrics.IncAlertFailed()
		p.logger.Warn("alert publish failed", map[string]any{
			"kind":      string(n.Kind),
			"title":     n.Title(),
			"action_id": n.ActionID,
			"error":     err.Error(),
		})
		return
	}
	p.metrics.IncAlertPublished()
}
