// Package types defines the core domain types shared by the parser, the
// pre-processor and the action runner.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// ActionType discriminates the Action tagged union.
type ActionType string

// Action type constants as they appear in the type attribute of an action tag.
const (
	ActionTypeFile     ActionType = "file"
	ActionTypeShell    ActionType = "shell"
	ActionTypeStart    ActionType = "start"
	ActionTypeBuild    ActionType = "build"
	ActionTypeDatabase ActionType = "database"
)

// Known reports whether t is one of the recognized action types.
func (t ActionType) Known() bool {
	switch t {
	case ActionTypeFile, ActionTypeShell, ActionTypeStart, ActionTypeBuild, ActionTypeDatabase:
		return true
	default:
		return false
	}
}

// IsCommand reports whether the action body is a command for the sandbox shell.
func (t ActionType) IsCommand() bool {
	return t == ActionTypeShell || t == ActionTypeStart
}

// DatabaseOperation is the operation kind of a database action.
type DatabaseOperation string

// Database operations.
const (
	DatabaseMigration DatabaseOperation = "migration"
	DatabaseQuery     DatabaseOperation = "query"
)

// EncodingBase64 marks file content as base64-encoded binary.
const EncodingBase64 = "base64"

// Action is a single typed directive nested inside an artifact.
// Which fields are meaningful depends on Type:
//   - file: FilePath, Content, Encoding (optional), Source (optional)
//   - shell, start: Content is the command text
//   - database: Operation, FilePath (required for migrations), Content
//   - build: no payload
type Action struct {
	Type      ActionType        `json:"type" msgpack:"type" yaml:"type"`
	Content   string            `json:"content" msgpack:"content" yaml:"content"`
	FilePath  string            `json:"file_path,omitempty" msgpack:"file_path,omitempty" yaml:"file_path,omitempty"`
	Encoding  string            `json:"encoding,omitempty" msgpack:"encoding,omitempty" yaml:"encoding,omitempty"`
	Source    string            `json:"source,omitempty" msgpack:"source,omitempty" yaml:"source,omitempty"`
	Operation DatabaseOperation `json:"operation,omitempty" msgpack:"operation,omitempty" yaml:"operation,omitempty"`
	// RawType preserves the type attribute of an unrecognized action.
	RawType string `json:"raw_type,omitempty" msgpack:"raw_type,omitempty" yaml:"raw_type,omitempty"`
}

// Binary reports whether the file content is base64-encoded.
func (a *Action) Binary() bool {
	return a.Encoding == EncodingBase64
}

// Describe returns a short human-readable label for logs and alerts.
func (a *Action) Describe() string {
	switch a.Type {
	case ActionTypeFile:
		return "write " + a.FilePath
	case ActionTypeShell, ActionTypeStart:
		return fmt.Sprintf("%s %q", a.Type, firstLine(a.Content))
	case ActionTypeDatabase:
		if a.FilePath != "" {
			return fmt.Sprintf("database %s %s", a.Operation, a.FilePath)
		}
		return fmt.Sprintf("database %s", a.Operation)
	case ActionTypeBuild:
		return "build"
	default:
		return "unknown " + a.RawType
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}

// ActionStatus is the execution state of an action.
type ActionStatus string

// Action status values.
//
//	pending -> running -> complete | failed | aborted
//	pending -> aborted
const (
	StatusPending  ActionStatus = "pending"
	StatusRunning  ActionStatus = "running"
	StatusComplete ActionStatus = "complete"
	StatusFailed   ActionStatus = "failed"
	StatusAborted  ActionStatus = "aborted"
)

// IsTerminal reports whether no further transition may leave s.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAborted
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ActionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusRunning:
		return from == StatusPending || from == StatusRunning
	case StatusComplete, StatusFailed:
		return from == StatusRunning
	case StatusAborted:
		return from == StatusPending || from == StatusRunning
	default:
		return false
	}
}

// ActionState is a registry entry snapshot: the action plus its status.
type ActionState struct {
	ID         string       `json:"id" yaml:"id"`
	MessageID  string       `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	ArtifactID string       `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
	Action     Action       `json:"action" yaml:"action"`
	Status     ActionStatus `json:"status" yaml:"status"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	Result     string       `json:"result,omitempty" yaml:"result,omitempty"`
	Executed   bool         `json:"executed" yaml:"executed"`
	QueuedAt   time.Time    `json:"queued_at" yaml:"queued_at"`
	StartedAt  time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt    time.Time    `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// Duration returns the execution time, zero if the action never ran.
func (s *ActionState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
