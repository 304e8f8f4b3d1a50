package sandbox

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pithecene-io/stagehand/types"
)

// Op kinds recorded by Memory.
const (
	OpCommand = "command"
	OpWrite   = "write"
	OpMkdir   = "mkdir"
	OpReadDir = "readdir"
	OpHost    = "host"
)

// Op is one operation observed by a Memory sandbox.
type Op struct {
	Kind    string
	Path    string
	Command string
	Data    string
}

// CommandFunc answers a command in a Memory sandbox.
type CommandFunc func(ctx context.Context, command string) (types.CommandResult, error)

// Memory is an in-memory Sandbox that records every operation in order.
// Commands succeed with exit code 0 unless OnCommand is set.
type Memory struct {
	// OnCommand, if set, answers RunCommand. It runs without the lock held.
	OnCommand CommandFunc

	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	ops   []Op
}

// NewMemory creates an empty Memory sandbox.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string][]byte),
		dirs:  map[string]bool{".": true},
	}
}

func (m *Memory) record(op Op) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
}

// Ops returns a copy of the recorded operations.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}

// Commands returns the recorded commands in order.
func (m *Memory) Commands() []string {
	var out []string
	for _, op := range m.Ops() {
		if op.Kind == OpCommand {
			out = append(out, op.Command)
		}
	}
	return out
}

// File returns the content of a written file.
func (m *Memory) File(p string) (string, bool) {
	cleaned, err := Clean(p)
	if err != nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[cleaned]
	return string(data), ok
}

// Seed creates a file and its parent directories without recording an op.
func (m *Memory) Seed(p, content string) {
	cleaned, err := Clean(p)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(path.Dir(cleaned))
	m.files[cleaned] = []byte(content)
}

func (m *Memory) mkdirLocked(dir string) {
	for dir != "." && dir != "/" && !m.dirs[dir] {
		m.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

// RunCommand records the command and answers it via OnCommand.
func (m *Memory) RunCommand(ctx context.Context, command string) (types.CommandResult, error) {
	m.record(Op{Kind: OpCommand, Command: command})
	if m.OnCommand != nil {
		return m.OnCommand(ctx, command)
	}
	if err := ctx.Err(); err != nil {
		return types.CommandResult{ExitCode: -1}, err
	}
	return types.CommandResult{}, nil
}

// WriteFile stores data at p. The parent directory must exist.
func (m *Memory) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, err := Clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpWrite, Path: cleaned, Data: string(data)})
	if !m.dirs[path.Dir(cleaned)] {
		return fmt.Errorf("%w: parent of %s", ErrNotFound, cleaned)
	}
	m.files[cleaned] = append([]byte(nil), data...)
	return nil
}

// Mkdir creates p and its parents.
func (m *Memory) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, err := Clean(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpMkdir, Path: cleaned})
	m.mkdirLocked(cleaned)
	return nil
}

// ReadDir lists the direct children of p, sorted by name.
func (m *Memory) ReadDir(ctx context.Context, p string) ([]types.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := Clean(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpReadDir, Path: cleaned})
	if !m.dirs[cleaned] {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}

	var out []types.DirEntry
	for dir := range m.dirs {
		if dir != cleaned && path.Dir(dir) == cleaned {
			out = append(out, types.DirEntry{Name: path.Base(dir), IsDir: true})
		}
	}
	for file, data := range m.files {
		if path.Dir(file) == cleaned {
			out = append(out, types.DirEntry{Name: path.Base(file), Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Host returns a fake preview URL.
func (m *Memory) Host(_ context.Context, port int) (string, error) {
	m.record(Op{Kind: OpHost, Path: fmt.Sprint(port)})
	return fmt.Sprintf("http://sandbox.local:%d", port), nil
}

// Remove deletes a file, as a command handler would.
func (m *Memory) Remove(p string) {
	cleaned, err := Clean(p)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, cleaned)
	for dir := range m.dirs {
		if dir == cleaned || strings.HasPrefix(dir, cleaned+"/") {
			delete(m.dirs, dir)
		}
	}
}

var _ Sandbox = (*Memory)(nil)
