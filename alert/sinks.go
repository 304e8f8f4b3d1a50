package alert

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/types"
)

// LogSink writes notifications to a logger. Error alerts and failed builds
// log at error level, everything else at info.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.NewNop()
	}
	return &LogSink{logger: logger}
}

// Publish logs n.
func (s *LogSink) Publish(_ context.Context, n *types.Notification) error {
	fields := map[string]any{
		"kind":      string(n.Kind),
		"action_id": n.ActionID,
	}
	failed := false
	switch {
	case n.Alert != nil:
		fields["type"] = string(n.Alert.Type)
		fields["description"] = n.Alert.Description
		if n.Alert.Content != "" {
			fields["content"] = n.Alert.Content
		}
		failed = n.Alert.Type == types.AlertError
	case n.Build != nil:
		fields["stage"] = string(n.Build.Stage)
		fields["build_status"] = string(n.Build.BuildStatus)
		fields["deploy_status"] = string(n.Build.DeployStatus)
		if n.Build.URL != "" {
			fields["url"] = n.Build.URL
		}
		failed = n.Build.BuildStatus == types.PhaseFailed
	case n.Database != nil:
		fields["description"] = n.Database.Description
		fields["source"] = n.Database.Source
	}
	if failed {
		s.logger.Error(n.Title(), fields)
	} else {
		s.logger.Info(n.Title(), fields)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// Multi fans a notification out to every sink. All sinks are attempted;
// failures are joined.
type Multi []Sink

// Publish sends n to every sink.
func (m Multi) Publish(ctx context.Context, n *types.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StubSink records notifications in memory. Err, if set, is returned from
// every Publish after recording.
type StubSink struct {
	Err error

	mu            sync.Mutex
	notifications []types.Notification
	closed        bool
}

// Publish records n.
func (s *StubSink) Publish(_ context.Context, n *types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return s.Err
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Notifications returns a copy of the recorded notifications.
func (s *StubSink) Notifications() []types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Closed reports whether Close was called.
func (s *StubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
	_ Sink = (*StubSink)(nil)
)
