package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(LocalConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func TestNewLocal_RequiresRoot(t *testing.T) {
	if _, err := NewLocal(LocalConfig{}); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestLocal_RunCommand(t *testing.T) {
	l := newTestLocal(t)

	res, err := l.RunCommand(t.Context(), "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestLocal_RunCommand_NonZeroExit(t *testing.T) {
	l := newTestLocal(t)

	res, err := l.RunCommand(t.Context(), "exit 3")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestLocal_RunCommand_RunsInRoot(t *testing.T) {
	l := newTestLocal(t)
	if err := os.WriteFile(filepath.Join(l.Root(), "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := l.RunCommand(t.Context(), "ls")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !strings.Contains(res.Stdout, "marker") {
		t.Errorf("expected marker in ls output, got %q", res.Stdout)
	}
}

func TestLocal_RunCommand_ContextTimeout(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	res, err := l.RunCommand(ctx, "sleep 5")
	if err == nil {
		t.Fatal("expected error for interrupted command")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestLocal_OutputCapped(t *testing.T) {
	l, err := NewLocal(LocalConfig{Root: t.TempDir(), MaxOutput: 4})
	if err != nil {
		t.Fatal(err)
	}
	res, err := l.RunCommand(t.Context(), "printf 0123456789")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Stdout, "0123") || !strings.Contains(res.Stdout, "truncated") {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestLocal_Filesystem(t *testing.T) {
	l := newTestLocal(t)
	ctx := t.Context()

	if err := l.WriteFile(ctx, "/src/app.js", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("write without parent: expected ErrNotFound, got %v", err)
	}
	if err := l.Mkdir(ctx, "/src/lib"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := l.WriteFile(ctx, "/src/app.js", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(l.Root(), "src", "app.js"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	entries, err := l.ReadDir(ctx, "src")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Name != "app.js" || entries[0].IsDir || entries[0].Size != 5 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "lib" || !entries[1].IsDir {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	if _, err := l.ReadDir(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadDir(missing): expected ErrNotFound, got %v", err)
	}
	if err := l.WriteFile(ctx, "../escape", nil); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestLocal_Host(t *testing.T) {
	l, err := NewLocal(LocalConfig{Root: t.TempDir(), Hostname: "preview.test"})
	if err != nil {
		t.Fatal(err)
	}
	url, err := l.Host(t.Context(), 5173)
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://preview.test:5173" {
		t.Errorf("Host() = %q", url)
	}
	if _, err := l.Host(t.Context(), 0); err == nil {
		t.Error("expected error for port 0")
	}
}
