package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/types"
)

// DefaultMaxOutput caps captured stdout and stderr per command.
const DefaultMaxOutput = 1 << 20

// LocalConfig configures a Local sandbox.
type LocalConfig struct {
	// Root is the working directory (required). Created if missing.
	Root string
	// Shell runs commands as `<Shell> -c <command>` (default "sh").
	Shell string
	// Hostname is used by Host (default "localhost").
	Hostname string
	// Env is appended to the process environment.
	Env []string
	// MaxOutput caps each captured stream (default DefaultMaxOutput).
	MaxOutput int
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Local runs commands with os/exec inside a root directory.
type Local struct {
	root   string
	config LocalConfig
	logger *log.Logger
}

// NewLocal creates a Local sandbox rooted at cfg.Root.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Root == "" {
		return nil, errors.New("local sandbox requires a root directory")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Local{root: root, config: cfg, logger: logger}, nil
}

// Root returns the absolute sandbox root.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(p string) (string, error) {
	cleaned, err := Clean(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, p)
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

// RunCommand runs command through the configured shell in the root.
func (l *Local) RunCommand(ctx context.Context, command string) (types.CommandResult, error) {
	cmd := exec.CommandContext(ctx, l.config.Shell, "-c", command)
	cmd.Dir = l.root
	cmd.Env = append(os.Environ(), l.config.Env...)
	cmd.WaitDelay = 2 * time.Second
	setupProcessGroup(cmd)

	stdout := &cappedBuffer{max: l.config.MaxOutput}
	stderr := &cappedBuffer{max: l.config.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := types.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		result.ExitCode = -1
		return result, fmt.Errorf("command interrupted: %w", ctx.Err())
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("run command: %w", err)
	}

	l.logger.Debug("command finished", map[string]any{
		"command":     command,
		"exit_code":   result.ExitCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// WriteFile writes data to p.
func (l *Local) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return mapFSError(err)
	}
	return nil
}

// Mkdir creates p and its parents.
func (l *Local) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return mapFSError(err)
	}
	return nil
}

// ReadDir lists p.
func (l *Local) ReadDir(ctx context.Context, p string) ([]types.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapFSError(err)
	}
	out := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		entry := types.DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}
	return out, nil
}

// Host returns http://<hostname>:<port>.
func (l *Local) Host(_ context.Context, port int) (string, error) {
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}
	return fmt.Sprintf("http://%s:%d", l.config.Hostname, port), nil
}

func mapFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n... [output truncated]"
	}
	return c.buf.String()
}

var _ Sandbox = (*Local)(nil)
