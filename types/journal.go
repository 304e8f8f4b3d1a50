package types

// RecordKind discriminator values for journal records.
const (
	RecordKindTransition = "action_transition"
	RecordKindParse      = "parse_event"
)

// JournalRecord is one entry of the action journal: a status transition of
// an action, or a parser event.
type JournalRecord struct {
	RecordKind string `json:"record_kind"`
	Version    string `json:"version"`
	SessionID  string `json:"session_id"`
	RunnerID   string `json:"runner_id,omitempty"`
	Seq        int64  `json:"seq"`
	Ts         string `json:"ts"`

	ActionID   string       `json:"action_id,omitempty"`
	MessageID  string       `json:"message_id,omitempty"`
	ArtifactID string       `json:"artifact_id,omitempty"`
	ActionType ActionType   `json:"action_type,omitempty"`
	Status     ActionStatus `json:"status,omitempty"`
	Error      string       `json:"error,omitempty"`
	Detail     string       `json:"detail,omitempty"`

	// Day is the Hive partition value (YYYY-MM-DD, UTC).
	Day string `json:"day"`
}
