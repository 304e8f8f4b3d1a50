// Package sandbox defines the execution backend actions run against.
//
// A Sandbox owns one filesystem root and one command channel. Local runs
// commands in-process under a working directory, Remote forwards every
// operation over HTTP to a Server, and Memory is a recording fake for tests.
// All paths are project-relative; a leading "/" names the sandbox root, not
// the host root.
package sandbox

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/pithecene-io/stagehand/types"
)

var (
	// ErrNotFound is returned when a path does not exist in the sandbox.
	ErrNotFound = errors.New("sandbox: not found")
	// ErrOutsideRoot is returned when a path escapes the sandbox root.
	ErrOutsideRoot = errors.New("sandbox: path outside root")
)

// Sandbox is the execution backend consumed by the action runner.
// Implementations must be safe for concurrent use; a start action keeps a
// command running while later actions proceed.
type Sandbox interface {
	// RunCommand runs a shell command to completion. A non-zero exit is
	// reported in the result, not as an error; errors mean the command
	// could not be run or was interrupted.
	RunCommand(ctx context.Context, command string) (types.CommandResult, error)
	// WriteFile creates or replaces a file. Parent directories must exist.
	WriteFile(ctx context.Context, path string, data []byte) error
	// Mkdir creates a directory and any missing parents.
	Mkdir(ctx context.Context, path string) error
	// ReadDir lists a directory. Returns ErrNotFound if it does not exist.
	ReadDir(ctx context.Context, path string) ([]types.DirEntry, error)
	// Host returns a URL at which a server listening on port is reachable.
	Host(ctx context.Context, port int) (string, error)
}

// Clean normalizes a project-relative path. The result has no leading
// slash; the sandbox root is ".". Returns ErrOutsideRoot for paths that
// climb above the root.
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ".", nil
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrOutsideRoot
	}
	return cleaned, nil
}

// Exists reports whether p names an existing file or directory, using only
// ReadDir on its parent.
func Exists(ctx context.Context, sb Sandbox, p string) (bool, error) {
	cleaned, err := Clean(p)
	if err != nil {
		return false, err
	}
	if cleaned == "." {
		return true, nil
	}
	entries, err := sb.ReadDir(ctx, path.Dir(cleaned))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	base := path.Base(cleaned)
	for _, e := range entries {
		if e.Name == base {
			return true, nil
		}
	}
	return false, nil
}

type backgroundKey struct{}

// WithBackground marks commands run under ctx as long-running. Backends
// that bound commands by default skip that bound when the context carries
// no deadline of its own.
func WithBackground(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundKey{}, true)
}

// IsBackground reports whether ctx was marked by WithBackground.
func IsBackground(ctx context.Context) bool {
	v, _ := ctx.Value(backgroundKey{}).(bool)
	return v
}
