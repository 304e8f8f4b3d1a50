package types

// ParserEventKind identifies a streaming parser event.
type ParserEventKind string

// Parser event kinds.
const (
	EventArtifactOpen  ParserEventKind = "artifact_open"
	EventArtifactClose ParserEventKind = "artifact_close"
	EventActionOpen    ParserEventKind = "action_open"
	EventActionStream  ParserEventKind = "action_stream"
	EventActionClose   ParserEventKind = "action_close"
)

// ArtifactEvent is the payload of artifact open/close callbacks.
type ArtifactEvent struct {
	MessageID string   `json:"message_id" msgpack:"message_id"`
	Artifact  Artifact `json:"artifact" msgpack:"artifact"`
}

// ActionEvent is the payload of action open/stream/close callbacks.
// On open and stream Action.Content holds the body received so far;
// on close it holds the finalized content.
type ActionEvent struct {
	MessageID  string `json:"message_id" msgpack:"message_id"`
	ArtifactID string `json:"artifact_id" msgpack:"artifact_id"`
	ActionID   string `json:"action_id" msgpack:"action_id"`
	Action     Action `json:"action" msgpack:"action"`
}

// ParserEvent is the serialized form of a parser callback, used for event
// streams and journals.
type ParserEvent struct {
	Seq      int64           `json:"seq" msgpack:"seq"`
	Kind     ParserEventKind `json:"kind" msgpack:"kind"`
	Artifact *ArtifactEvent  `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
	Action   *ActionEvent    `json:"action,omitempty" msgpack:"action,omitempty"`
}
