package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/stagehand/ipc"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/types"
)

// DefaultCommandTimeout bounds server-side commands that carry no timeout
// and are not marked background.
const DefaultCommandTimeout = 5 * time.Minute

// Server exposes a Sandbox over HTTP:
//
//	POST /v1/command | /v1/write | /v1/mkdir | /v1/readdir | /v1/host
//	GET  /health
//
// Request and response bodies are single ipc frames.
type Server struct {
	sandbox        Sandbox
	logger         *log.Logger
	mux            *http.ServeMux
	commandTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCommandTimeout replaces DefaultCommandTimeout. Zero or negative
// leaves the default in place.
func WithCommandTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// NewServer wraps sb. A nil logger logs nothing.
func NewServer(sb Sandbox, logger *log.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{sandbox: sb, logger: logger, mux: http.NewServeMux(), commandTimeout: DefaultCommandTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/{op}", s.handleOp)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	body := http.MaxBytesReader(w, r.Body, ipc.MaxFrameSize)
	frame, err := ipc.NewFrameDecoder(body).ReadFrame()
	if err != nil {
		s.fail(w, op, http.StatusBadRequest, ipc.ErrorKindBadRequest, fmt.Errorf("read frame: %w", err))
		return
	}
	req, err := ipc.DecodeRequest(frame)
	if err != nil {
		s.fail(w, op, http.StatusBadRequest, ipc.ErrorKindBadRequest, err)
		return
	}
	if req.Type != op {
		s.fail(w, op, http.StatusBadRequest, ipc.ErrorKindBadRequest, fmt.Errorf("frame type %q does not match route", req.Type))
		return
	}

	resp := &ipc.Response{Type: ipc.TypeResponse, Version: types.WireVersion, OK: true}
	ctx := r.Context()
	switch op {
	case ipc.TypeCommand:
		// Background commands run until the client hangs up.
		if req.TimeoutMs > 0 || !req.Background {
			timeout := s.commandTimeout
			if req.TimeoutMs > 0 {
				timeout = time.Duration(req.TimeoutMs) * time.Millisecond
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var result types.CommandResult
		result, err = s.sandbox.RunCommand(ctx, req.Command)
		resp.Result = &result
	case ipc.TypeWrite:
		err = s.sandbox.WriteFile(ctx, req.Path, req.Data)
	case ipc.TypeMkdir:
		err = s.sandbox.Mkdir(ctx, req.Path)
	case ipc.TypeReadDir:
		resp.Entries, err = s.sandbox.ReadDir(ctx, req.Path)
	case ipc.TypeHost:
		resp.URL, err = s.sandbox.Host(ctx, req.Port)
	default:
		s.fail(w, op, http.StatusNotFound, ipc.ErrorKindBadRequest, fmt.Errorf("unknown operation %q", op))
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			s.fail(w, op, http.StatusNotFound, ipc.ErrorKindNotFound, err)
		case errors.Is(err, ErrOutsideRoot):
			s.fail(w, op, http.StatusForbidden, ipc.ErrorKindOutsideRoot, err)
		default:
			s.fail(w, op, http.StatusInternalServerError, ipc.ErrorKindInternal, err)
		}
		return
	}
	s.write(w, op, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, op string, status int, kind string, err error) {
	s.logger.Warn("sandbox request failed", map[string]any{
		"op":     op,
		"status": status,
		"error":  err.Error(),
	})
	s.write(w, op, status, &ipc.Response{
		Type:      ipc.TypeResponse,
		Version:   types.WireVersion,
		Error:     err.Error(),
		ErrorKind: kind,
	})
}

func (s *Server) write(w http.ResponseWriter, op string, status int, resp *ipc.Response) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	if err := ipc.NewFrameEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write sandbox response", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	}
}
