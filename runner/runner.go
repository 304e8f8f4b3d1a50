// Package runner executes parsed actions against a sandbox.
//
// A Runner owns the action registry of one session and a single serialized
// chain: actions execute one at a time, in the order RunAction was called,
// across any number of messages. Each action moves through
//
//	pending -> running -> complete | failed | aborted
//
// and never leaves a terminal state. Handler failures are caught, recorded
// on the action and reported through the alert publisher; the chain always
// advances. Config.HaltOnShellFailure aborts queued actions after a failed
// shell command for callers that want fail-fast batches.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/stagehand/alert"
	"github.com/pithecene-io/stagehand/fetch"
	"github.com/pithecene-io/stagehand/journal"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/manifest"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/types"
)

// ErrClosed is returned by operations on a closed runner.
var ErrClosed = errors.New("runner closed")

// Default timeouts and build settings.
const (
	DefaultShellTimeout   = 5 * time.Minute
	DefaultFileTimeout    = 30 * time.Second
	DefaultInstallTimeout = 3 * time.Minute
	DefaultInstallPoll    = 2 * time.Second
	DefaultInstallQuiet   = 3 * time.Second
	DefaultStartGrace     = 2 * time.Second
	DefaultBuildCommand   = "npm run build"
)

// DefaultOutputDirs are searched in order for build output.
var DefaultOutputDirs = []string{"dist", "build", "out", ".next", "public"}

// ManifestValidator repairs package manifest content before it is written.
type ManifestValidator func(filePath, content string) (manifest.Result, error)

// Config configures a Runner. Zero values take the defaults above.
type Config struct {
	ShellTimeout   time.Duration
	FileTimeout    time.Duration
	InstallTimeout time.Duration
	InstallPoll    time.Duration
	InstallQuiet   time.Duration
	StartGrace     time.Duration
	BuildCommand   string
	OutputDirs     []string

	// HaltOnShellFailure aborts every pending action after a shell action fails.
	HaltOnShellFailure bool

	// Fetcher resolves file action sources. File actions with a source
	// fail when nil.
	Fetcher fetch.Fetcher
	// ValidateManifest defaults to manifest.Validate.
	ValidateManifest ManifestValidator

	Alerts   *alert.Publisher
	Recorder *journal.Recorder
	// OnTransition observes every status change, after it is recorded.
	OnTransition func(types.ActionState)

	Logger  *log.Logger
	Metrics *metrics.Collector
}

func (c Config) withDefaults() Config {
	if c.ShellTimeout <= 0 {
		c.ShellTimeout = DefaultShellTimeout
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = DefaultInstallTimeout
	}
	if c.InstallPoll <= 0 {
		c.InstallPoll = DefaultInstallPoll
	}
	if c.InstallQuiet <= 0 {
		c.InstallQuiet = DefaultInstallQuiet
	}
	if c.StartGrace <= 0 {
		c.StartGrace = DefaultStartGrace
	}
	if c.BuildCommand == "" {
		c.BuildCommand = DefaultBuildCommand
	}
	if len(c.OutputDirs) == 0 {
		c.OutputDirs = DefaultOutputDirs
	}
	if c.ValidateManifest == nil {
		c.ValidateManifest = manifest.Validate
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return c
}

// entry is the registry record of one action.
type entry struct {
	state  types.ActionState
	ctx    context.Context
	cancel context.CancelFunc
}

// Runner is the action execution engine of one session.
type Runner struct {
	cfg Config
	sb  sandbox.Sandbox

	// ctx outlives individual actions; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	id      string
	logger  *log.Logger
	actions map[string]*entry
	order   []string
	tail    chan struct{}
	closed  bool

	// jobs tracks chain goroutines, monitors tracks start processes
	// still running after their grace period.
	jobs     sync.WaitGroup
	monitors sync.WaitGroup

	now func() time.Time
}

// New creates a runner bound to a sandbox.
func New(sb sandbox.Sandbox, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	tail := make(chan struct{})
	close(tail)
	r := &Runner{
		cfg:     cfg,
		sb:      sb,
		ctx:     ctx,
		cancel:  cancel,
		actions: make(map[string]*entry),
		tail:    tail,
		now:     time.Now,
	}
	r.setID(uuid.NewString())
	return r
}

// ID returns the current runner identity.
func (r *Runner) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Rotate regenerates the runner identity, as after a sandbox reconnect.
// The registry and the chain are kept.
func (r *Runner) Rotate() string {
	id := uuid.NewString()
	r.setID(id)
	return id
}

func (r *Runner) setID(id string) {
	r.mu.Lock()
	r.id = id
	r.logger = r.cfg.Logger.With("runner_id", id)
	r.mu.Unlock()
	r.cfg.Recorder.SetRunnerID(id)
}

func (r *Runner) log() *log.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

// AddAction registers an action as pending. Registering a known id is a no-op.
func (r *Runner) AddAction(ev types.ActionEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.actions[ev.ActionID]; ok {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		state: types.ActionState{
			ID:         ev.ActionID,
			MessageID:  ev.MessageID,
			ArtifactID: ev.ArtifactID,
			Action:     ev.Action,
			Status:     types.StatusPending,
			QueuedAt:   r.now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	r.actions[ev.ActionID] = e
	r.order = append(r.order, ev.ActionID)
	st := e.state
	r.mu.Unlock()

	r.cfg.Metrics.IncActionQueued()
	r.observe(st)
}

// RunAction enqueues an action on the serialized chain. Streaming calls
// are ignored for anything but file actions; calls for an action that was
// already run to completion are ignored. Unregistered actions are
// registered first.
func (r *Runner) RunAction(ev types.ActionEvent, streaming bool) {
	if streaming && ev.Action.Type != types.ActionTypeFile {
		return
	}
	r.AddAction(ev)

	r.mu.Lock()
	e, ok := r.actions[ev.ActionID]
	if !ok || r.closed || e.state.Executed || e.state.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	e.state.Action = ev.Action
	e.state.Executed = !streaming
	action := ev.Action

	prev := r.tail
	done := make(chan struct{})
	r.tail = done
	r.jobs.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.jobs.Done()
		defer close(done)
		select {
		case <-prev:
		case <-r.ctx.Done():
			return
		}
		r.execute(e, action, streaming)
	}()
}

// Abort cancels an action. Pending and running actions become aborted;
// a start action that already completed has its process stopped.
func (r *Runner) Abort(id string) bool {
	r.mu.Lock()
	e, ok := r.actions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return r.transition(e, types.StatusAborted, "", "")
}

// AbortAll aborts every action that has not reached a terminal state.
func (r *Runner) AbortAll() int {
	n := 0
	for _, id := range r.ids() {
		if r.Abort(id) {
			n++
		}
	}
	return n
}

// abortPending aborts queued actions that have not started.
func (r *Runner) abortPending() int {
	n := 0
	for _, id := range r.ids() {
		r.mu.Lock()
		e := r.actions[id]
		pending := e.state.Status == types.StatusPending
		r.mu.Unlock()
		if pending && r.Abort(id) {
			n++
		}
	}
	return n
}

func (r *Runner) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Wait blocks until every action enqueued so far has finished executing.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	tail := r.tail
	r.mu.Unlock()
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Action returns a snapshot of one action.
func (r *Runner) Action(id string) (types.ActionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.actions[id]
	if !ok {
		return types.ActionState{}, false
	}
	return e.state, true
}

// Actions returns snapshots of every action in registration order.
func (r *Runner) Actions() []types.ActionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ActionState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.actions[id].state)
	}
	return out
}

// Close aborts outstanding actions, stops background processes and waits
// for every goroutine the runner started.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.AbortAll()
	r.cancel()
	r.jobs.Wait()
	r.monitors.Wait()
	return nil
}

// transition applies a status change if the state machine allows it.
func (r *Runner) transition(e *entry, to types.ActionStatus, errMsg, result string) bool {
	r.mu.Lock()
	if !types.CanTransition(e.state.Status, to) {
		r.mu.Unlock()
		return false
	}
	now := r.now()
	switch {
	case to == types.StatusRunning && e.state.StartedAt.IsZero():
		e.state.StartedAt = now
	case to.IsTerminal():
		e.state.EndedAt = now
	}
	changed := e.state.Status != to
	e.state.Status = to
	e.state.Error = errMsg
	if result != "" {
		e.state.Result = result
	}
	st := e.state
	r.mu.Unlock()

	if !changed {
		return true
	}
	switch to {
	case types.StatusComplete:
		r.cfg.Metrics.IncActionCompleted()
	case types.StatusFailed:
		r.cfg.Metrics.IncActionFailed()
	case types.StatusAborted:
		r.cfg.Metrics.IncActionAborted()
	}
	r.observe(st)
	return true
}

func (r *Runner) observe(st types.ActionState) {
	r.cfg.Recorder.Transition(context.WithoutCancel(r.ctx), st)
	if r.cfg.OnTransition != nil {
		r.cfg.OnTransition(st)
	}
}

// execute runs one chain step.
func (r *Runner) execute(e *entry, action types.Action, streaming bool) {
	if e.ctx.Err() != nil {
		return
	}
	if !r.transition(e, types.StatusRunning, "", "") {
		return
	}
	logger := r.log().With("action_id", e.state.ID)

	result, err := r.handle(e, action, streaming)

	if e.ctx.Err() != nil {
		// Aborted while suspended: no further transitions.
		return
	}
	if streaming {
		return
	}
	if err != nil {
		logger.Warn("action failed", map[string]any{
			"action": action.Describe(),
			"error":  err.Error(),
		})
		r.transition(e, types.StatusFailed, err.Error(), result)
		r.reportFailure(e.state.ID, action, err)
		if r.cfg.HaltOnShellFailure && action.Type == types.ActionTypeShell {
			if n := r.abortPending(); n > 0 {
				logger.Warn("halting queued actions after shell failure", map[string]any{"aborted": n})
			}
		}
		return
	}
	logger.Debug("action complete", map[string]any{"action": action.Describe()})
	r.transition(e, types.StatusComplete, "", result)
}

// handle dispatches to the type-specific handler.
func (r *Runner) handle(e *entry, action types.Action, streaming bool) (string, error) {
	switch action.Type {
	case types.ActionTypeFile:
		return r.runFile(e, action, streaming)
	case types.ActionTypeShell:
		return r.runShell(e, action)
	case types.ActionTypeStart:
		return r.runStart(e, action)
	case types.ActionTypeBuild:
		return r.runBuild(e)
	case types.ActionTypeDatabase:
		return r.runDatabase(e, action)
	default:
		r.log().Warn("unknown action type, skipping", map[string]any{
			"action_id": e.state.ID,
			"type":      action.RawType,
		})
		return "", nil
	}
}
