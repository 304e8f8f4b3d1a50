package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/policy"
	"github.com/pithecene-io/stagehand/types"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	SessionID string
	// Day is the partition day; derived from the first record when empty.
	Day string
	// RecordParseEvents enables parse_event records.
	RecordParseEvents bool
	Logger            *log.Logger
	Metrics           *metrics.Collector
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Recorder turns action transitions and parser events into journal records
// and hands them to a policy. Recording failures are logged and counted,
// never returned: the journal must not stall the action chain.
//
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	policy  policy.Policy
	cfg     RecorderConfig
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time

	seq atomic.Int64

	mu       sync.Mutex
	runnerID string
	closed   bool
}

// NewRecorder creates a recorder writing through pol.
func NewRecorder(pol policy.Policy, cfg RecorderConfig) *Recorder {
	r := &Recorder{
		policy:  pol,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if r.logger == nil {
		r.logger = log.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SetRunnerID stamps subsequent records with the runner instance ID.
// A reconnect gets a new runner ID within the same session.
func (r *Recorder) SetRunnerID(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.runnerID = id
	r.mu.Unlock()
}

// Transition records the current status of an action.
func (r *Recorder) Transition(ctx context.Context, st types.ActionState) {
	if r == nil {
		return
	}
	rec := r.stamp(types.RecordKindTransition)
	rec.ActionID = st.ID
	rec.MessageID = st.MessageID
	rec.ArtifactID = st.ArtifactID
	rec.ActionType = st.Action.Type
	rec.Status = st.Status
	rec.Error = st.Error
	rec.Detail = st.Result
	r.ingest(ctx, rec)
}

// ParseEvent records a parser event when parse events are enabled.
func (r *Recorder) ParseEvent(ctx context.Context, messageID string, ev types.ParserEvent) {
	if r == nil || !r.cfg.RecordParseEvents {
		return
	}
	rec := r.stamp(types.RecordKindParse)
	rec.MessageID = messageID
	rec.Detail = string(ev.Kind)
	switch {
	case ev.Action != nil:
		rec.ActionID = ev.Action.ActionID
		rec.ArtifactID = ev.Action.ArtifactID
		rec.ActionType = ev.Action.Action.Type
	case ev.Artifact != nil:
		rec.ArtifactID = ev.Artifact.Artifact.ID
	}
	r.ingest(ctx, rec)
}

// Flush forces buffered records to storage.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.policy.Flush(ctx)
}

// Stats returns the policy counters.
func (r *Recorder) Stats() policy.Stats {
	if r == nil {
		return policy.Stats{}
	}
	return r.policy.Stats()
}

// Close flushes, closes the policy and folds its stats into metrics.
// Subsequent records are discarded.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.policy.Close()
	st := r.policy.Stats()
	r.metrics.AbsorbPolicyStats(st.TotalRecords, st.RecordsPersisted, st.RecordsDropped, st.DroppedByKind)
	return err
}

func (r *Recorder) stamp(kind string) *types.JournalRecord {
	now := r.now().UTC()
	day := r.cfg.Day
	if day == "" {
		day = DeriveDay(now)
	}
	r.mu.Lock()
	runnerID := r.runnerID
	r.mu.Unlock()
	return &types.JournalRecord{
		RecordKind: kind,
		Version:    types.Version,
		SessionID:  r.cfg.SessionID,
		RunnerID:   runnerID,
		Seq:        r.seq.Add(1),
		Ts:         now.Format(time.RFC3339Nano),
		Day:        day,
	}
}

func (r *Recorder) ingest(ctx context.Context, rec *types.JournalRecord) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if err := r.policy.Ingest(ctx, rec); err != nil {
		r.logger.Warn("journal record not persisted", map[string]any{
			"record_kind": rec.RecordKind,
			"seq":         rec.Seq,
			"action_id":   rec.ActionID,
			"error":       err.Error(),
		})
	}
}
