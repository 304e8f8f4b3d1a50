package sandbox

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/stagehand/iox"
	"github.com/pithecene-io/stagehand/ipc"
	"github.com/pithecene-io/stagehand/types"
)

func newTestRemote(t *testing.T, sb Sandbox) *Remote {
	t.Helper()
	ts := httptest.NewServer(NewServer(sb, nil))
	t.Cleanup(ts.Close)

	r, err := NewRemote(RemoteConfig{URL: ts.URL + "/", Retries: 0})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	t.Cleanup(iox.CloseFunc(r))
	return r
}

func TestNewRemote_Validation(t *testing.T) {
	if _, err := NewRemote(RemoteConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := NewRemote(RemoteConfig{URL: "http://x", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
}

func TestRemote_RoundTrip(t *testing.T) {
	mem := NewMemory()
	mem.OnCommand = func(_ context.Context, cmd string) (types.CommandResult, error) {
		return types.CommandResult{ExitCode: 2, Stdout: "ran " + cmd}, nil
	}
	r := newTestRemote(t, mem)
	ctx := t.Context()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := r.Mkdir(ctx, "/src"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := r.WriteFile(ctx, "/src/a.js", []byte("console.log(1)\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := r.ReadDir(ctx, "src")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if diff := cmp.Diff([]types.DirEntry{{Name: "a.js", Size: 15}}, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	res, err := r.RunCommand(ctx, "npm test")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res.ExitCode != 2 || res.Stdout != "ran npm test" {
		t.Errorf("result = %+v", res)
	}

	url, err := r.Host(ctx, 3000)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if url != "http://sandbox.local:3000" {
		t.Errorf("Host() = %q", url)
	}

	if got, _ := mem.File("src/a.js"); got != "console.log(1)\n" {
		t.Errorf("server file = %q", got)
	}
}

func TestRemote_ErrorMapping(t *testing.T) {
	r := newTestRemote(t, NewMemory())
	ctx := t.Context()

	if _, err := r.ReadDir(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Mkdir(ctx, "../x"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	inner := NewServer(NewMemory(), nil)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer ts.Close()

	r, err := NewRemote(RemoteConfig{URL: ts.URL, Retries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer iox.DiscardClose(r)

	if err := r.Mkdir(t.Context(), "src"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestRemote_CommandNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	r, err := NewRemote(RemoteConfig{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer iox.DiscardClose(r)

	_, err = r.RunCommand(t.Context(), "npm install")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", remoteErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("command sent %d times, want 1", got)
	}
}

func TestRemote_BackgroundCommandOutlivesDefaultBound(t *testing.T) {
	tests := []struct {
		name         string
		background   bool
		wantErr      bool
		wantDeadline bool
	}{
		{name: "bounded by server default", wantErr: true, wantDeadline: true},
		{name: "background runs on", background: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hadDeadline atomic.Bool
			mem := NewMemory()
			mem.OnCommand = func(ctx context.Context, _ string) (types.CommandResult, error) {
				_, ok := ctx.Deadline()
				hadDeadline.Store(ok)
				select {
				case <-ctx.Done():
					return types.CommandResult{ExitCode: -1}, ctx.Err()
				case <-time.After(300 * time.Millisecond):
					return types.CommandResult{Stdout: "listening"}, nil
				}
			}
			ts := httptest.NewServer(NewServer(mem, nil, WithCommandTimeout(50*time.Millisecond)))
			t.Cleanup(ts.Close)
			r, err := NewRemote(RemoteConfig{URL: ts.URL})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(iox.CloseFunc(r))

			ctx := t.Context()
			if tt.background {
				ctx = WithBackground(ctx)
			}
			res, err := r.RunCommand(ctx, "npm run dev")
			if tt.wantErr {
				var remoteErr *RemoteError
				if !errors.As(err, &remoteErr) {
					t.Fatalf("expected RemoteError, got %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("RunCommand: %v", err)
				}
				if res.Stdout != "listening" {
					t.Errorf("stdout = %q", res.Stdout)
				}
			}
			if got := hadDeadline.Load(); got != tt.wantDeadline {
				t.Errorf("server command had deadline = %v, want %v", got, tt.wantDeadline)
			}
		})
	}
}

func TestRemote_BackgroundKeepsCallerDeadline(t *testing.T) {
	var timeoutMs atomic.Int64
	var background atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frame, err := ipc.NewFrameDecoder(r.Body).ReadFrame()
		if err != nil {
			t.Errorf("read frame: %v", err)
			return
		}
		req, err := ipc.DecodeRequest(frame)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		timeoutMs.Store(req.TimeoutMs)
		background.Store(req.Background)
		_ = ipc.NewFrameEncoder(w).Encode(&ipc.Response{Type: ipc.TypeResponse, OK: true, Result: &types.CommandResult{}})
	}))
	t.Cleanup(ts.Close)
	r, err := NewRemote(RemoteConfig{URL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(iox.CloseFunc(r))

	ctx, cancel := context.WithTimeout(WithBackground(t.Context()), time.Minute)
	defer cancel()
	if _, err := r.RunCommand(ctx, "npm start"); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !background.Load() {
		t.Error("background flag not sent")
	}
	if got := timeoutMs.Load(); got <= 0 || got > time.Minute.Milliseconds() {
		t.Errorf("timeout_ms = %d, want within (0, 60000]", got)
	}
}

func TestServer_RejectsMismatchedRoute(t *testing.T) {
	srv := NewServer(NewMemory(), nil)

	var body bytes.Buffer
	if err := ipc.NewFrameEncoder(&body).Encode(&ipc.Request{Type: ipc.TypeMkdir, Path: "x"}); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/write", &body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	frame, err := ipc.NewFrameDecoder(rec.Body).ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ipc.DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.ErrorKind != ipc.ErrorKindBadRequest {
		t.Errorf("response = %+v", resp)
	}
}

func TestServer_RejectsGarbage(t *testing.T) {
	srv := NewServer(NewMemory(), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/command", strings.NewReader("nope"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(NewMemory(), nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
