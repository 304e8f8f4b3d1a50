package runner

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/stagehand/types"
)

func TestBuildReport(t *testing.T) {
	start := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	states := []types.ActionState{
		{ID: "a", Status: types.StatusComplete, StartedAt: start, EndedAt: start.Add(1500 * time.Millisecond)},
		{ID: "b", Status: types.StatusFailed, Error: "boom"},
		{ID: "c", Status: types.StatusAborted},
		{ID: "d", Status: types.StatusPending},
	}
	report := BuildReport(states)

	want := ReportSummary{Total: 4, Complete: 1, Failed: 1, Aborted: 1, Unfinished: 1}
	if report.Summary != want {
		t.Errorf("Summary = %+v, want %+v", report.Summary, want)
	}
	if report.Actions[0].DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", report.Actions[0].DurationMs)
	}
	if report.OK() {
		t.Error("report with failures must not be OK")
	}
	if !BuildReport(states[:1]).OK() {
		t.Error("all-complete report must be OK")
	}
}

func TestWriteReport(t *testing.T) {
	report := BuildReport([]types.ActionState{{ID: "a", Status: types.StatusComplete}})
	report.SessionID = "sess"

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(report, path); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if decoded["session_id"] != "sess" {
		t.Errorf("session_id = %v", decoded["session_id"])
	}
	actions := decoded["actions"].([]any)
	row := actions[0].(map[string]any)
	if row["id"] != "a" || row["status"] != "complete" {
		t.Errorf("embedded action state not inlined: %v", row)
	}

	if err := WriteReport(report, ""); err == nil {
		t.Error("empty path must fail")
	}

	var buf bytes.Buffer
	if err := writeReportTo(report, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("report must end with a newline")
	}
}
