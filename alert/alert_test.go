package alert

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/types"
)

func TestPublisher_StampsNotification(t *testing.T) {
	sink := &StubSink{}
	collector := metrics.NewCollector("strict", "local", "none", "sess-1")
	p := NewPublisher(sink, "sess-1", nil, collector)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	p.Alert(t.Context(), "m1-action-2", types.Alert{Type: types.AlertError, Title: "Command failed", Description: "exit 1"})
	p.Build(t.Context(), "m1-action-3", types.BuildAlert{Stage: types.StageBuilding, BuildStatus: types.PhaseRunning})
	p.Database(t.Context(), "m1-action-4", types.DatabaseAlert{Title: "Run query", Content: "select 1"})

	got := sink.Notifications()
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}
	first := got[0]
	if first.SessionID != "sess-1" || first.Version != types.Version || first.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("envelope = %+v", first)
	}
	if first.Kind != types.NotificationAlert || first.ActionID != "m1-action-2" || first.Alert.Title != "Command failed" {
		t.Errorf("alert = %+v", first)
	}
	if got[1].Kind != types.NotificationBuild || got[1].Build == nil {
		t.Errorf("build = %+v", got[1])
	}
	if got[2].Kind != types.NotificationDatabase || got[2].Database.Content != "select 1" {
		t.Errorf("database = %+v", got[2])
	}
	if snap := collector.Snapshot(); snap.AlertsPublished != 3 || snap.AlertsFailed != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestPublisher_SinkFailureIsCounted(t *testing.T) {
	sink := &StubSink{Err: errors.New("down")}
	collector := metrics.NewCollector("strict", "local", "none", "sess-1")
	p := NewPublisher(sink, "sess-1", nil, collector)

	p.Alert(t.Context(), "", types.Alert{Type: types.AlertInfo, Title: "x"})

	if snap := collector.Snapshot(); snap.AlertsFailed != 1 || snap.AlertsPublished != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.Alert(t.Context(), "", types.Alert{Title: "ignored"})
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLoggerWithLevel("sess-1", &buf, zapcore.DebugLevel)
	sink := NewLogSink(logger)

	err := sink.Publish(t.Context(), &types.Notification{
		Kind:  types.NotificationAlert,
		Alert: &types.Alert{Type: types.AlertError, Title: "Command failed", Description: "exit 127"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "Command failed") {
		t.Errorf("log output = %s", out)
	}
}

type failSink struct{ closeErr error }

func (f failSink) Publish(context.Context, *types.Notification) error { return errors.New("publish failed") }
func (f failSink) Close() error                                       { return f.closeErr }

func TestMulti(t *testing.T) {
	a, b := &StubSink{}, &StubSink{}
	m := Multi{a, failSink{closeErr: errors.New("close failed")}, b}

	err := m.Publish(t.Context(), &types.Notification{Kind: types.NotificationAlert, Alert: &types.Alert{Title: "x"}})
	if err == nil || !strings.Contains(err.Error(), "publish failed") {
		t.Errorf("expected joined publish error, got %v", err)
	}
	if len(a.Notifications()) != 1 || len(b.Notifications()) != 1 {
		t.Error("every sink should receive the notification")
	}

	if err := m.Close(); err == nil {
		t.Error("expected close error")
	}
	if !a.Closed() || !b.Closed() {
		t.Error("every sink should be closed")
	}
}
