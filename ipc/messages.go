package ipc

import "github.com/pithecene-io/stagehand/types"

// Frame type discriminants.
const (
	TypeCommand     = "command"
	TypeWrite       = "write"
	TypeMkdir       = "mkdir"
	TypeReadDir     = "readdir"
	TypeHost        = "host"
	TypeResponse    = "response"
	TypeParserEvent = "parser_event"
)

// Error kinds carried by a failed Response so the client can map them back
// to sandbox sentinel errors.
const (
	ErrorKindNotFound    = "not_found"
	ErrorKindOutsideRoot = "outside_root"
	ErrorKindBadRequest  = "bad_request"
	ErrorKindInternal    = "internal"
)

// Request is a remote sandbox operation.
type Request struct {
	Type    string `msgpack:"type"`
	Version string `msgpack:"version"`
	Command string `msgpack:"command,omitempty"`
	Path    string `msgpack:"path,omitempty"`
	Data    []byte `msgpack:"data,omitempty"`
	Port    int    `msgpack:"port,omitempty"`
	// TimeoutMs bounds command execution on the server; zero means the
	// server default.
	TimeoutMs int64 `msgpack:"timeout_ms,omitempty"`
	// Background marks a long-running command. With no TimeoutMs the server
	// applies no default bound and the command lives as long as the request.
	Background bool `msgpack:"background,omitempty"`
}

// Response answers a Request.
type Response struct {
	Type      string               `msgpack:"type"`
	Version   string               `msgpack:"version"`
	OK        bool                 `msgpack:"ok"`
	Error     string               `msgpack:"error,omitempty"`
	ErrorKind string               `msgpack:"error_kind,omitempty"`
	Result    *types.CommandResult `msgpack:"result,omitempty"`
	Entries   []types.DirEntry     `msgpack:"entries,omitempty"`
	URL       string               `msgpack:"url,omitempty"`
}

// EventFrame wraps a parser event for the event stream.
type EventFrame struct {
	Type    string            `msgpack:"type"`
	Version string            `msgpack:"version"`
	Event   types.ParserEvent `msgpack:"event"`
}

// NewEventFrame wraps ev with the current wire version.
func NewEventFrame(ev types.ParserEvent) *EventFrame {
	return &EventFrame{Type: TypeParserEvent, Version: types.WireVersion, Event: ev}
}
