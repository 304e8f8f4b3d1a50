// Package session binds one sandbox, one runner and one parser state into a
// conversation session.
//
// Callers feed the cumulative text of each assistant message as it streams
// in; parser callbacks are forwarded into the runner so that actions execute
// while the message is still being generated:
//
//	action open   -> Runner.AddAction
//	action stream -> Runner.RunAction(ev, true)   (file actions only)
//	action close  -> Runner.RunAction(ev, false)
//
// Calls for the same message id must be serialized by the caller; different
// messages may be fed concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/stagehand/heuristic"
	"github.com/pithecene-io/stagehand/journal"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/stream"
	"github.com/pithecene-io/stagehand/types"
)

// ErrClosed is returned by Feed after Close.
var ErrClosed = errors.New("session closed")

// Sidecar file names written on Close.
const (
	TranscriptFile = "transcript.md"
	ReportFile     = "report.json"
)

// FileStore persists session sidecar files. *journal.LodeClient satisfies it.
type FileStore interface {
	PutFile(ctx context.Context, filename string, data []byte) error
}

// Config configures a Session.
type Config struct {
	// ID is the session identity. Defaults to a new UUID.
	ID      string
	Sandbox sandbox.Sandbox
	// Runner is passed to runner.New. Its Logger, Metrics and Recorder are
	// filled from the session when unset.
	Runner runner.Config

	// Classifiers overrides the heuristic cascade. Ignored when
	// DisableHeuristics is set.
	Classifiers       []heuristic.Classifier
	DisableHeuristics bool

	Recorder *journal.Recorder
	// JournalPolicy names the journal policy in reports.
	JournalPolicy string
	// Files receives the transcript and report on Close. Nil skips them.
	Files FileStore

	// OnEvent observes every parser event after it reached the runner.
	OnEvent func(types.ParserEvent)

	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Session is one conversation against one sandbox.
type Session struct {
	id       string
	cfg      Config
	logger   *log.Logger
	metrics  *metrics.Collector
	recorder *journal.Recorder
	parser   *stream.ParserState
	runner   *runner.Runner

	mu       sync.Mutex
	closed   bool
	messages map[string]string
	order    []string
}

// New creates a session. The sandbox is required.
func New(cfg Config) (*Session, error) {
	if cfg.Sandbox == nil {
		return nil, errors.New("session requires a sandbox")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(cfg.ID)
	}

	s := &Session{
		id:       cfg.ID,
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		recorder: cfg.Recorder,
		messages: make(map[string]string),
	}

	rcfg := cfg.Runner
	if rcfg.Logger == nil {
		rcfg.Logger = logger
	}
	if rcfg.Metrics == nil {
		rcfg.Metrics = cfg.Metrics
	}
	if rcfg.Recorder == nil {
		rcfg.Recorder = cfg.Recorder
	}
	s.runner = runner.New(cfg.Sandbox, rcfg)

	var pre stream.Preprocessor
	if !cfg.DisableHeuristics {
		pre = heuristic.New(heuristic.Options{
			Classifiers: cfg.Classifiers,
			Logger:      logger,
			Metrics:     cfg.Metrics,
		})
	}
	s.parser = stream.NewParserState(stream.Options{
		Callbacks: stream.Callbacks{
			OnActionOpen:   s.runner.AddAction,
			OnActionStream: func(ev types.ActionEvent) { s.runner.RunAction(ev, true) },
			OnActionClose:  func(ev types.ActionEvent) { s.runner.RunAction(ev, false) },
			OnEvent:        s.observe,
		},
		Preprocessor: pre,
		Logger:       logger,
		Metrics:      cfg.Metrics,
	})

	logger.Info("session started", map[string]any{
		"runner_id":  s.runner.ID(),
		"heuristics": !cfg.DisableHeuristics,
	})
	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Runner returns the session's action runner.
func (s *Session) Runner() *runner.Runner { return s.runner }

// Parser returns the session's parser state.
func (s *Session) Parser() *stream.ParserState { return s.parser }

// Feed parses the cumulative text of a message and returns the display text
// for the whole message so far. Actions completed by this text are queued
// on the runner before Feed returns; they execute asynchronously.
func (s *Session) Feed(ctx context.Context, messageID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if _, ok := s.messages[messageID]; !ok {
		s.order = append(s.order, messageID)
	}
	s.messages[messageID] = text
	s.mu.Unlock()

	return s.parser.Parse(messageID, text)
}

// Reset forgets a message so that it can be parsed again from scratch.
// Actions already registered for it are unaffected.
func (s *Session) Reset(messageID string) {
	s.parser.Reset(messageID)
	s.mu.Lock()
	delete(s.messages, messageID)
	s.mu.Unlock()
}

// Reconnect gives the runner a new identity, as after a client reconnect.
// The registry and chain are kept.
func (s *Session) Reconnect() string {
	id := s.runner.Rotate()
	s.logger.Info("runner reconnected", map[string]any{"runner_id": id})
	return id
}

// Wait blocks until every queued action has finished.
func (s *Session) Wait(ctx context.Context) error {
	return s.runner.Wait(ctx)
}

// Report returns the run report with session, journal and metrics data.
func (s *Session) Report() *runner.Report {
	report := s.runner.Report()
	report.SessionID = s.id
	if s.recorder != nil {
		st := s.recorder.Stats()
		report.Journal = &runner.ReportJournal{
			Policy:          s.cfg.JournalPolicy,
			RecordsReceived: st.TotalRecords,
			RecordsWritten:  st.RecordsPersisted,
			RecordsDropped:  st.RecordsDropped,
		}
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		report.Metrics = &snap
	}
	return report
}

// Transcript renders every fed message in arrival order.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for i, id := range s.order {
		text, ok := s.messages[id]
		if !ok {
			continue
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n", id, text)
	}
	return b.String()
}

// Close aborts outstanding actions, writes the sidecar files and closes the
// journal. It returns the final report.
func (s *Session) Close(ctx context.Context) (*runner.Report, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.Report(), nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.runner.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close runner: %w", err))
	}
	report := s.Report()

	if s.cfg.Files != nil {
		if err := s.cfg.Files.PutFile(ctx, TranscriptFile, []byte(s.Transcript())); err != nil {
			errs = append(errs, fmt.Errorf("write transcript: %w", err))
		}
		data, err := runner.MarshalReport(report)
		if err == nil {
			err = s.cfg.Files.PutFile(ctx, ReportFile, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("write report: %w", err))
		}
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}

	s.logger.Info("session closed", map[string]any{
		"actions":  report.Summary.Total,
		"complete": report.Summary.Complete,
		"failed":   report.Summary.Failed,
		"aborted":  report.Summary.Aborted,
	})
	return report, errors.Join(errs...)
}

// observe runs after the typed callback of every parser event. Parser
// callbacks carry no context; journal writes are bounded by the policy.
func (s *Session) observe(ev types.ParserEvent) {
	msgID := ""
	switch {
	case ev.Action != nil:
		msgID = ev.Action.MessageID
	case ev.Artifact != nil:
		msgID = ev.Artifact.MessageID
	}
	s.recorder.ParseEvent(context.Background(), msgID, ev)
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}
