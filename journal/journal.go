// Package journal persists the action journal with Lode.
//
// Every action status transition (and optionally every parser event) becomes
// a types.JournalRecord written as JSONL into a Hive-partitioned dataset:
//
//	datasets/<dataset>/partitions/session_id=<s>/day=<d>/record_kind=<k>/...
//
// Sidecar files (the raw model transcript, the final run report) land under
// the session partition's files/ prefix. Storage can be a local directory,
// S3 (or an S3-compatible provider), or memory for tests.
package journal

import (
	"time"

	"github.com/pithecene-io/stagehand/policy"
)

// DefaultDataset is the default Lode dataset ID.
const DefaultDataset = "stagehand"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"session_id", "day", "record_kind"}

// Config identifies the session a client writes for.
type Config struct {
	// Dataset is the Lode dataset ID (default "stagehand").
	Dataset string
	// SessionID is the session partition value (required).
	SessionID string
	// Day is the day partition value, derived from session start (YYYY-MM-DD UTC).
	Day string
}

// DeriveDay computes the partition day from the session start time.
func DeriveDay(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// Client writes journal records. Every Client is a policy.Sink.
type Client interface {
	policy.Sink
}
