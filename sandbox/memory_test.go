package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/stagehand/types"
)

func TestMemory_RecordsOps(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	if err := m.Mkdir(ctx, "/src"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFile(ctx, "/src/a.js", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RunCommand(ctx, "node src/a.js"); err != nil {
		t.Fatal(err)
	}

	want := []Op{
		{Kind: OpMkdir, Path: "src"},
		{Kind: OpWrite, Path: "src/a.js", Data: "a"},
		{Kind: OpCommand, Command: "node src/a.js"},
	}
	if diff := cmp.Diff(want, m.Ops()); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	if got, ok := m.File("src/a.js"); !ok || got != "a" {
		t.Errorf("File() = %q, %v", got, ok)
	}
}

func TestMemory_WriteRequiresParent(t *testing.T) {
	m := NewMemory()
	if err := m.WriteFile(t.Context(), "a/b.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ReadDir(t *testing.T) {
	m := NewMemory()
	m.Seed("src/b.js", "bb")
	m.Seed("src/lib/c.js", "c")
	m.Seed("a.txt", "a")

	entries, err := m.ReadDir(t.Context(), "/")
	if err != nil {
		t.Fatal(err)
	}
	want := []types.DirEntry{{Name: "a.txt", Size: 1}, {Name: "src", IsDir: true}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("root entries mismatch (-want +got):\n%s", diff)
	}

	entries, err = m.ReadDir(t.Context(), "src")
	if err != nil {
		t.Fatal(err)
	}
	want = []types.DirEntry{{Name: "b.js", Size: 2}, {Name: "lib", IsDir: true}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("src entries mismatch (-want +got):\n%s", diff)
	}

	m.Remove("src")
	if _, err := m.ReadDir(t.Context(), "src/lib"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
}

func TestMemory_OnCommand(t *testing.T) {
	m := NewMemory()
	m.OnCommand = func(_ context.Context, cmd string) (types.CommandResult, error) {
		return types.CommandResult{ExitCode: 1, Stderr: cmd + ": not found"}, nil
	}
	res, err := m.RunCommand(t.Context(), "foo")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 || res.Stderr != "foo: not found" {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"foo"}, m.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}
