package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/stagehand/iox"
	"github.com/pithecene-io/stagehand/ipc"
	"github.com/pithecene-io/stagehand/types"
)

// ContentType is the media type of sandbox request and response bodies:
// a single length-prefixed msgpack frame.
const ContentType = "application/x-msgpack"

// DefaultTimeout bounds non-command remote operations.
const DefaultTimeout = 30 * time.Second

// DefaultRetries is the default number of retries for idempotent operations.
const DefaultRetries = 2

// RemoteConfig configures a Remote sandbox client.
type RemoteConfig struct {
	// URL is the sandbox server base URL (required).
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds write, mkdir, readdir and host calls (default 30s).
	// Commands are bounded by their context only.
	Timeout time.Duration
	// Retries applies to idempotent operations; commands are never retried.
	Retries int
	// Client overrides the HTTP client.
	Client *http.Client
}

// RemoteError is returned when the server rejects an operation or answers
// with an unexpected status.
type RemoteError struct {
	Op         string
	StatusCode int
	Msg        string
}

func (e *RemoteError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sandbox %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("sandbox %s: status %d: %s", e.Op, e.StatusCode, e.Msg)
}

// retriable reports whether the failure may succeed on retry.
func (e *RemoteError) retriable() bool {
	return e.StatusCode >= 500
}

// Remote forwards sandbox operations to a Server over HTTP.
type Remote struct {
	config RemoteConfig
	client *http.Client
}

// NewRemote creates a Remote sandbox client.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote sandbox requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Remote{config: cfg, client: client}, nil
}

// RunCommand runs a command on the server. The context deadline, if any, is
// forwarded so the server stops the command at the same time. A context
// marked by WithBackground lifts the server's default bound.
func (r *Remote) RunCommand(ctx context.Context, command string) (types.CommandResult, error) {
	req := &ipc.Request{Type: ipc.TypeCommand, Command: command, Background: IsBackground(ctx)}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMs = max(time.Until(deadline).Milliseconds(), 1)
	}
	resp, err := r.call(ctx, req, 0, false)
	if err != nil {
		return types.CommandResult{ExitCode: -1}, err
	}
	if resp.Result == nil {
		return types.CommandResult{ExitCode: -1}, &RemoteError{Op: ipc.TypeCommand, StatusCode: http.StatusOK, Msg: "response missing result"}
	}
	return *resp.Result, nil
}

// WriteFile uploads data to p.
func (r *Remote) WriteFile(ctx context.Context, p string, data []byte) error {
	_, err := r.call(ctx, &ipc.Request{Type: ipc.TypeWrite, Path: p, Data: data}, r.config.Retries, true)
	return err
}

// Mkdir creates p on the server.
func (r *Remote) Mkdir(ctx context.Context, p string) error {
	_, err := r.call(ctx, &ipc.Request{Type: ipc.TypeMkdir, Path: p}, r.config.Retries, true)
	return err
}

// ReadDir lists p on the server.
func (r *Remote) ReadDir(ctx context.Context, p string) ([]types.DirEntry, error) {
	resp, err := r.call(ctx, &ipc.Request{Type: ipc.TypeReadDir, Path: p}, r.config.Retries, true)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Host asks the server for the preview URL of port.
func (r *Remote) Host(ctx context.Context, port int) (string, error) {
	resp, err := r.call(ctx, &ipc.Request{Type: ipc.TypeHost, Port: port}, r.config.Retries, true)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Ping checks GET /health.
func (r *Remote) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox health: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &RemoteError{Op: "health", StatusCode: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// call sends req, retrying transport errors and 5xx answers up to retries
// times with exponential backoff.
func (r *Remote) call(ctx context.Context, req *ipc.Request, retries int, bounded bool) (*ipc.Response, error) {
	req.Version = types.WireVersion
	var body bytes.Buffer
	if err := ipc.NewFrameEncoder(&body).Encode(req); err != nil {
		return nil, err
	}
	payload := body.Bytes()

	var lastErr error
	attempts := 1 + retries
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sandbox %s: context canceled: %w", req.Type, err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("sandbox %s: context canceled during backoff: %w", req.Type, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := r.do(ctx, req.Type, payload, bounded)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var remoteErr *RemoteError
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOutsideRoot) ||
			(errors.As(err, &remoteErr) && !remoteErr.retriable()) {
			return nil, err
		}
	}
	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("sandbox %s: failed after %d attempts: %w", req.Type, attempts, lastErr)
}

func (r *Remote) do(ctx context.Context, op string, payload []byte, bounded bool) (*ipc.Response, error) {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.URL+"/v1/"+op, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentType)
	for k, v := range r.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s: request failed: %w", op, err)
	}
	defer iox.DiscardClose(httpResp.Body)

	frame, err := ipc.NewFrameDecoder(httpResp.Body).ReadFrame()
	if err != nil {
		return nil, &RemoteError{Op: op, StatusCode: httpResp.StatusCode, Msg: "unreadable response: " + err.Error()}
	}
	resp, err := ipc.DecodeResponse(frame)
	if err != nil {
		return nil, &RemoteError{Op: op, StatusCode: httpResp.StatusCode, Msg: err.Error()}
	}
	if !resp.OK {
		switch resp.ErrorKind {
		case ipc.ErrorKindNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resp.Error)
		case ipc.ErrorKindOutsideRoot:
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, resp.Error)
		}
		return nil, &RemoteError{Op: op, StatusCode: httpResp.StatusCode, Msg: resp.Error}
	}
	return resp, nil
}

var _ Sandbox = (*Remote)(nil)
