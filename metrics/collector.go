// Package metrics collects per-session counters for the parser, the
// pre-processor, the action runner, alert delivery and the journal.
//
// The Collector is a leaf package with no internal dependencies. Journal
// policy counters are absorbed from policy.Stats when a session closes
// rather than recorded live, so records are not counted twice.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Parser
	MessagesParsed  int64 `json:"messages_parsed" yaml:"messages_parsed"`
	ArtifactsOpened int64 `json:"artifacts_opened" yaml:"artifacts_opened"`
	ActionsOpened   int64 `json:"actions_opened" yaml:"actions_opened"`
	ActionsStreamed int64 `json:"actions_streamed" yaml:"actions_streamed"`
	ActionsClosed   int64 `json:"actions_closed" yaml:"actions_closed"`
	ParseErrors     int64 `json:"parse_errors" yaml:"parse_errors"`
	ParserRewinds   int64 `json:"parser_rewinds" yaml:"parser_rewinds"`

	// Pre-processor rewrites keyed by classifier name
	Rewrites map[string]int64 `json:"rewrites" yaml:"rewrites"`

	// Runner
	ActionsQueued    int64 `json:"actions_queued" yaml:"actions_queued"`
	ActionsCompleted int64 `json:"actions_completed" yaml:"actions_completed"`
	ActionsFailed    int64 `json:"actions_failed" yaml:"actions_failed"`
	ActionsAborted   int64 `json:"actions_aborted" yaml:"actions_aborted"`
	CommandsRepaired int64 `json:"commands_repaired" yaml:"commands_repaired"`

	// Alerts
	AlertsPublished int64 `json:"alerts_published" yaml:"alerts_published"`
	AlertsFailed    int64 `json:"alerts_failed" yaml:"alerts_failed"`

	// Journal (per call, not per record)
	JournalWriteSuccess int64 `json:"journal_write_success" yaml:"journal_write_success"`
	JournalWriteFailure int64 `json:"journal_write_failure" yaml:"journal_write_failure"`

	// Journal policy (absorbed from policy.Stats)
	RecordsReceived  int64            `json:"records_received" yaml:"records_received"`
	RecordsPersisted int64            `json:"records_persisted" yaml:"records_persisted"`
	RecordsDropped   int64            `json:"records_dropped" yaml:"records_dropped"`
	DroppedByKind    map[string]int64 `json:"dropped_by_kind" yaml:"dropped_by_kind"`

	// Dimensions (informational, set at construction)
	Policy         string `json:"policy" yaml:"policy"`
	SandboxMode    string `json:"sandbox_mode" yaml:"sandbox_mode"`
	JournalBackend string `json:"journal_backend" yaml:"journal_backend"`
	SessionID      string `json:"session_id" yaml:"session_id"`
}

// Collector accumulates counters for a single session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	messagesParsed  int64
	artifactsOpened int64
	actionsOpened   int64
	actionsStreamed int64
	actionsClosed   int64
	parseErrors     int64
	parserRewinds   int64

	rewrites map[string]int64

	actionsQueued    int64
	actionsCompleted int64
	actionsFailed    int64
	actionsAborted   int64
	commandsRepaired int64

	alertsPublished int64
	alertsFailed    int64

	journalWriteSuccess int64
	journalWriteFailure int64

	recordsReceived  int64
	recordsPersisted int64
	recordsDropped   int64
	droppedByKind    map[string]int64

	policy         string
	sandboxMode    string
	journalBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, sandboxMode, journalBackend, sessionID string) *Collector {
	return &Collector{
		rewrites:       make(map[string]int64),
		droppedByKind:  make(map[string]int64),
		policy:         policy,
		sandboxMode:    sandboxMode,
		journalBackend: journalBackend,
		sessionID:      sessionID,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Parser ---

// IncMessageParsed records one parse call.
func (c *Collector) IncMessageParsed() {
	if c == nil {
		return
	}
	c.inc(&c.messagesParsed)
}

// IncArtifactOpened records an accepted artifact open tag.
func (c *Collector) IncArtifactOpened() {
	if c == nil {
		return
	}
	c.inc(&c.artifactsOpened)
}

// IncActionOpened records an accepted action open tag.
func (c *Collector) IncActionOpened() {
	if c == nil {
		return
	}
	c.inc(&c.actionsOpened)
}

// IncActionStreamed records a partial-content stream event.
func (c *Collector) IncActionStreamed() {
	if c == nil {
		return
	}
	c.inc(&c.actionsStreamed)
}

// IncActionClosed records a finalized action.
func (c *Collector) IncActionClosed() {
	if c == nil {
		return
	}
	c.inc(&c.actionsClosed)
}

// IncParseError records a parse-fatal error.
func (c *Collector) IncParseError() {
	if c == nil {
		return
	}
	c.inc(&c.parseErrors)
}

// IncParserRewind records a rewind caused by an upstream rewrite.
func (c *Collector) IncParserRewind() {
	if c == nil {
		return
	}
	c.inc(&c.parserRewinds)
}

// AddRewrites records n rewrites performed by the named classifier.
func (c *Collector) AddRewrites(classifier string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.rewrites[classifier] += int64(n)
	c.mu.Unlock()
}

// --- Runner ---

// IncActionQueued records an action entering the chain.
func (c *Collector) IncActionQueued() {
	if c == nil {
		return
	}
	c.inc(&c.actionsQueued)
}

// IncActionCompleted records an action reaching complete.
func (c *Collector) IncActionCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.actionsCompleted)
}

// IncActionFailed records an action reaching failed.
func (c *Collector) IncActionFailed() {
	if c == nil {
		return
	}
	c.inc(&c.actionsFailed)
}

// IncActionAborted records an action reaching aborted.
func (c *Collector) IncActionAborted() {
	if c == nil {
		return
	}
	c.inc(&c.actionsAborted)
}

// IncCommandRepaired records a pre-execution command rewrite.
func (c *Collector) IncCommandRepaired() {
	if c == nil {
		return
	}
	c.inc(&c.commandsRepaired)
}

// --- Alerts ---

// IncAlertPublished records a delivered alert.
func (c *Collector) IncAlertPublished() {
	if c == nil {
		return
	}
	c.inc(&c.alertsPublished)
}

// IncAlertFailed records an alert that could not be delivered.
func (c *Collector) IncAlertFailed() {
	if c == nil {
		return
	}
	c.inc(&c.alertsFailed)
}

// --- Journal ---
// Journal counters are per-call, not per-record. A single WriteRecords call
// with N records counts as 1 success. Per-record granularity is tracked by
// policy.Stats.

// IncJournalWriteSuccess records a successful journal write call.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteSuccess)
}

// IncJournalWriteFailure records a failed journal write call.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteFailure)
}

// AbsorbPolicyStats copies journal policy counters into the collector.
// Called once when the session closes with the final policy stats snapshot.
func (c *Collector) AbsorbPolicyStats(total, persisted, dropped int64, droppedByKind map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsReceived = total
	c.recordsPersisted = persisted
	c.recordsDropped = dropped
	c.droppedByKind = make(map[string]int64, len(droppedByKind))
	for k, v := range droppedByKind {
		c.droppedByKind[k] = v
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rewrites := make(map[string]int64, len(c.rewrites))
	for k, v := range c.rewrites {
		rewrites[k] = v
	}
	dropped := make(map[string]int64, len(c.droppedByKind))
	for k, v := range c.droppedByKind {
		dropped[k] = v
	}

	return Snapshot{
		MessagesParsed:  c.messagesParsed,
		ArtifactsOpened: c.artifactsOpened,
		ActionsOpened:   c.actionsOpened,
		ActionsStreamed: c.actionsStreamed,
		ActionsClosed:   c.actionsClosed,
		ParseErrors:     c.parseErrors,
		ParserRewinds:   c.parserRewinds,

		Rewrites: rewrites,

		ActionsQueued:    c.actionsQueued,
		ActionsCompleted: c.actionsCompleted,
		ActionsFailed:    c.actionsFailed,
		ActionsAborted:   c.actionsAborted,
		CommandsRepaired: c.commandsRepaired,

		AlertsPublished: c.alertsPublished,
		AlertsFailed:    c.alertsFailed,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		RecordsReceived:  c.recordsReceived,
		RecordsPersisted: c.recordsPersisted,
		RecordsDropped:   c.recordsDropped,
		DroppedByKind:    dropped,

		Policy:         c.policy,
		SandboxMode:    c.sandboxMode,
		JournalBackend: c.journalBackend,
		SessionID:      c.sessionID,
	}
}
