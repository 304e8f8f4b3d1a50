package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_IncludesSessionID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel("sess-1", &buf, zapcore.DebugLevel)

	l.Info("action started", map[string]any{"action_id": "a1"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", entry["session_id"])
	}
	if entry["message"] != "action started" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["action_id"] != "a1" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel("sess-1", &buf, zapcore.WarnLevel)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)

	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("expected exactly one line, got %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel("sess-1", &buf, zapcore.DebugLevel).With("runner_id", "r-9")
	l.Error("boom", nil)
	if !strings.Contains(buf.String(), `"runner_id":"r-9"`) {
		t.Errorf("missing runner_id: %s", buf.String())
	}
}

func TestSugaredLogger(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggerWithLevel("sess-1", &buf, zapcore.DebugLevel).Sugar().With("cmd", "parse")
	s.Infof("parsed %d messages", 3)
	if !strings.Contains(buf.String(), "parsed 3 messages") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("nothing", nil)
	_ = l.Sync()
}
