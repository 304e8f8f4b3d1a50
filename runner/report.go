package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/types"
)

// Report is the structured run report: the final state of every action.
type Report struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	RunnerID  string `json:"runner_id" yaml:"runner_id"`

	Summary ReportSummary     `json:"summary" yaml:"summary"`
	Actions []ReportAction    `json:"actions" yaml:"actions"`
	Journal *ReportJournal    `json:"journal,omitempty" yaml:"journal,omitempty"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// ReportSummary counts actions by final status.
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	Complete int `json:"complete" yaml:"complete"`
	Failed   int `json:"failed" yaml:"failed"`
	Aborted  int `json:"aborted" yaml:"aborted"`
	// Unfinished counts actions still pending or running.
	Unfinished int `json:"unfinished" yaml:"unfinished"`
}

// ReportAction is one action row of the report.
type ReportAction struct {
	types.ActionState `yaml:",inline"`
	DurationMs        int64 `json:"duration_ms" yaml:"duration_ms"`
}

// ReportJournal holds journal policy stats.
type ReportJournal struct {
	Policy          string `json:"policy" yaml:"policy"`
	RecordsReceived int64  `json:"records_received" yaml:"records_received"`
	RecordsWritten  int64  `json:"records_persisted" yaml:"records_persisted"`
	RecordsDropped  int64  `json:"records_dropped" yaml:"records_dropped"`
}

// Report snapshots the registry.
func (r *Runner) Report() *Report {
	report := BuildReport(r.Actions())
	report.RunnerID = r.ID()
	return report
}

// BuildReport composes a report from action states, as produced by a live
// runner or replayed from the journal.
func BuildReport(states []types.ActionState) *Report {
	report := &Report{Actions: make([]ReportAction, 0, len(states))}
	for _, st := range states {
		report.Actions = append(report.Actions, ReportAction{
			ActionState: st,
			DurationMs:  st.Duration().Milliseconds(),
		})
		report.Summary.Total++
		switch st.Status {
		case types.StatusComplete:
			report.Summary.Complete++
		case types.StatusFailed:
			report.Summary.Failed++
		case types.StatusAborted:
			report.Summary.Aborted++
		default:
			report.Summary.Unfinished++
		}
	}
	return report
}

// OK reports whether every action completed.
func (r *Report) OK() bool {
	return r.Summary.Failed == 0 && r.Summary.Aborted == 0 && r.Summary.Unfinished == 0
}

// WriteReport writes the report as JSON to path. "-" writes to stderr.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}
	data, err := MarshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// MarshalReport returns the indented JSON form of a report.
func MarshalReport(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

func writeReportTo(report *Report, w io.Writer) error {
	data, err := MarshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
