package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/stagehand/types"
)

// Failure kinds of a command. Use errors.Is(err, ErrXxx) on a *CommandError.
var (
	ErrMissingPath      = errors.New("no such file or directory")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownCommand   = errors.New("command not found")
	ErrIsDirectory      = errors.New("target is a directory")
	ErrAlreadyExists    = errors.New("target already exists")
	ErrCommandFailed    = errors.New("command failed")
)

// CommandError is a non-zero command exit with a classified cause.
type CommandError struct {
	Kind       error
	Command    string
	ExitCode   int
	Output     string
	Suggestion string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %v", e.Command, e.ExitCode, e.Kind)
}

func (e *CommandError) Unwrap() error {
	return e.Kind
}

// diagnosis rules are checked in order against the lowercased output.
var diagnoses = []struct {
	kind       error
	exitCode   int
	patterns   []string
	suggestion string
}{
	{
		kind:       ErrUnknownCommand,
		exitCode:   127,
		patterns:   []string{"command not found", "not recognized as", "executable file not found"},
		suggestion: "The program is not installed in the sandbox. Install it first or use an available alternative.",
	},
	{
		kind:       ErrPermissionDenied,
		exitCode:   126,
		patterns:   []string{"permission denied", "eacces", "operation not permitted"},
		suggestion: "The command lacks permission. Check file modes (chmod +x for scripts) or write to a project directory.",
	},
	{
		kind:       ErrIsDirectory,
		patterns:   []string{"is a directory", "eisdir"},
		suggestion: "The target is a directory. Use a file path, or a recursive flag for directory operations.",
	},
	{
		kind:       ErrAlreadyExists,
		patterns:   []string{"file exists", "eexist", "already exists"},
		suggestion: "The target already exists. Remove it first or use a flag that tolerates existing targets (mkdir -p).",
	},
	{
		kind:       ErrMissingPath,
		patterns:   []string{"no such file or directory", "enoent", "cannot access", "cannot find"},
		suggestion: "A referenced file or directory does not exist. Create it first or check the path.",
	},
}

// Diagnose classifies a failed command result.
func Diagnose(command string, res types.CommandResult) *CommandError {
	out := res.Output()
	lower := strings.ToLower(out)
	ce := &CommandError{
		Kind:       ErrCommandFailed,
		Command:    command,
		ExitCode:   res.ExitCode,
		Output:     out,
		Suggestion: "Check the command output for details.",
	}
	for _, d := range diagnoses {
		if matchesDiagnosis(lower, res.ExitCode, d.exitCode, d.patterns) {
			ce.Kind = d.kind
			ce.Suggestion = d.suggestion
			break
		}
	}
	return ce
}

func matchesDiagnosis(output string, exitCode, want int, patterns []string) bool {
	if want != 0 && exitCode == want {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(output, p) {
			return true
		}
	}
	return false
}
