// Package stream implements the incremental tag parser.
//
// A ParserState is owned by one conversation session. Each call to Parse
// receives the full text accumulated so far for a message and resumes from
// that message's stored cursor, so already consumed text is never scanned
// or emitted twice. Artifact bodies are hidden from the display text and
// replaced by a placeholder element; actions inside artifacts are reported
// through Callbacks as they open, stream and close.
//
// Calls for the same message id must be serialized by the caller. Calls for
// different messages may run concurrently. State may be called at any time;
// it sees the position published by the last completed Parse.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/scanner"
	"github.com/pithecene-io/stagehand/types"
)

// Callbacks receive parser events. Any field may be nil.
type Callbacks struct {
	OnArtifactOpen  func(types.ArtifactEvent)
	OnArtifactClose func(types.ArtifactEvent)
	OnActionOpen    func(types.ActionEvent)
	OnActionStream  func(types.ActionEvent)
	OnActionClose   func(types.ActionEvent)
	// OnEvent receives every event in serialized form, after the typed callback.
	OnEvent func(types.ParserEvent)
}

// Preprocessor rewrites cumulative message text before it is scanned.
// Process must be deterministic for a given message history so that
// repeated calls agree on every already-complete region.
type Preprocessor interface {
	Process(messageID, text string) string
	Reset(messageID string)
}

// Options configures a ParserState.
type Options struct {
	Callbacks    Callbacks
	Preprocessor Preprocessor
	Logger       *log.Logger
	Metrics      *metrics.Collector
}

// MessageParseState is the resumable scan position of one message.
type MessageParseState struct {
	Cursor          int
	InsideArtifact  bool
	InsideAction    bool
	CurrentArtifact *types.Artifact
	CurrentAction   *types.Action
	ActionCounter   int
	ArtifactCounter int

	actionID string
	streamed string

	// text is the pre-processed text seen by the previous call.
	text string
	out  []byte

	// Offset just past the last consumed tag and the display length at
	// that moment. Rewinds never cross this point.
	structEnd     int
	structDisplay int

	err error
}

// ParserState holds the parse state of every in-flight message of a session.
type ParserState struct {
	opts   Options
	logger *log.Logger

	mu        sync.Mutex
	messages  map[string]*MessageParseState
	snapshots map[string]MessageParseState

	seq atomic.Int64
}

// NewParserState creates an empty parser state.
func NewParserState(opts Options) *ParserState {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &ParserState{
		opts:      opts,
		logger:    logger,
		messages:  make(map[string]*MessageParseState),
		snapshots: make(map[string]MessageParseState),
	}
}

func (p *ParserState) message(id string) *MessageParseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[id]
	if !ok {
		m = &MessageParseState{}
		p.messages[id] = m
	}
	return m
}

// Reset discards the state of a message, including the pre-processor's
// de-duplication memory for it.
func (p *ParserState) Reset(messageID string) {
	p.mu.Lock()
	delete(p.messages, messageID)
	delete(p.snapshots, messageID)
	p.mu.Unlock()
	if p.opts.Preprocessor != nil {
		p.opts.Preprocessor.Reset(messageID)
	}
}

// State returns the exported scan position of a message as of the last
// completed Parse call. The result shares nothing with the live state.
func (p *ParserState) State(messageID string) (MessageParseState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.snapshots[messageID]
	return st, ok
}

// snapshot stores a deep copy of m's exported fields for State.
func (p *ParserState) snapshot(messageID string, m *MessageParseState) {
	st := MessageParseState{
		Cursor:          m.Cursor,
		InsideArtifact:  m.InsideArtifact,
		InsideAction:    m.InsideAction,
		ActionCounter:   m.ActionCounter,
		ArtifactCounter: m.ArtifactCounter,
	}
	if m.CurrentArtifact != nil {
		a := *m.CurrentArtifact
		st.CurrentArtifact = &a
	}
	if m.CurrentAction != nil {
		a := *m.CurrentAction
		st.CurrentAction = &a
	}
	p.mu.Lock()
	p.snapshots[messageID] = st
	p.mu.Unlock()
}

// Parse consumes the cumulative text of a message and returns the display
// text for the whole message so far. A *ParseError is returned when the
// message contains an action tag that cannot be accepted; the display text
// produced up to that tag is still returned.
func (p *ParserState) Parse(messageID, text string) (string, error) {
	m := p.message(messageID)
	if m.err != nil {
		return string(m.out), m.err
	}
	p.opts.Metrics.IncMessageParsed()

	if p.opts.Preprocessor != nil {
		text = p.opts.Preprocessor.Process(messageID, text)
	}
	p.rewind(messageID, m, text)

	err := p.scan(messageID, m, text)
	m.text = text
	p.snapshot(messageID, m)
	if err != nil {
		m.err = err
		p.opts.Metrics.IncParseError()
		p.logger.Error("parse failed", map[string]any{
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
	return string(m.out), err
}

// rewind moves the cursor back when text already consumed as prose was
// rewritten by the pre-processor since the previous call.
func (p *ParserState) rewind(messageID string, m *MessageParseState, text string) {
	d := commonPrefix(m.text, text)
	if d >= m.Cursor {
		return
	}
	if d < m.structEnd {
		p.logger.Warn("rewrite before consumed tag ignored", map[string]any{
			"message_id": messageID,
			"offset":     d,
			"tag_end":    m.structEnd,
		})
		return
	}
	keep := m.structDisplay
	if !m.InsideArtifact {
		keep += d - m.structEnd
	}
	m.out = m.out[:keep]
	m.Cursor = d
	p.opts.Metrics.IncParserRewind()
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (m *MessageParseState) markStructural() {
	m.structEnd = m.Cursor
	m.structDisplay = len(m.out)
}

func (m *MessageParseState) emit(s string) {
	m.out = append(m.out, s...)
}

// scan runs the state machine from the cursor until it runs out of text or
// reaches a tag that has not fully arrived.
func (p *ParserState) scan(messageID string, m *MessageParseState, text string) error {
	for m.Cursor <= len(text) {
		var more bool
		var err error
		switch {
		case m.InsideAction:
			more = p.scanAction(messageID, m, text)
		case m.InsideArtifact:
			more, err = p.scanArtifact(messageID, m, text)
		default:
			more = p.scanProse(messageID, m, text)
		}
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// scanProse handles text outside any artifact.
func (p *ParserState) scanProse(messageID string, m *MessageParseState, text string) bool {
	match := scanner.FindFirst(text, m.Cursor, scanner.ArtifactOpen, scanner.QuickActionsOpen)
	switch match.Status {
	case scanner.NotFound:
		m.emit(text[m.Cursor:])
		m.Cursor = len(text)
		return false
	case scanner.Incomplete:
		m.emit(text[m.Cursor:match.Start])
		m.Cursor = match.Start
		return false
	}

	m.emit(text[m.Cursor:match.Start])
	m.Cursor = match.Start

	if match.Tag == scanner.QuickActionsOpen {
		return p.consumeQuickActions(messageID, m, text)
	}

	accepted, incomplete := scanner.NameBoundary(text, match.Start, scanner.ArtifactOpen)
	if incomplete {
		return false
	}
	if !accepted {
		m.emit(text[match.Start : match.Start+len(scanner.ArtifactOpen)])
		m.Cursor = match.Start + len(scanner.ArtifactOpen)
		return true
	}
	end, ok := scanner.TagEnd(text, match.Start)
	if !ok {
		return false
	}

	attrs := scanner.Attributes(text[match.Start:end])
	artifact := types.Artifact{
		ID:    fmt.Sprintf("%s-%d", messageID, m.ArtifactCounter),
		Title: attrs.Get("title"),
		Type:  attrs.Get("type"),
		TagID: attrs.Get("id"),
	}
	m.ArtifactCounter++
	m.InsideArtifact = true
	m.CurrentArtifact = &artifact
	m.emit(ArtifactPlaceholder(messageID, artifact.ID))
	m.Cursor = end
	m.markStructural()

	p.opts.Metrics.IncArtifactOpened()
	ev := types.ArtifactEvent{MessageID: messageID, Artifact: artifact}
	if p.opts.Callbacks.OnArtifactOpen != nil {
		p.opts.Callbacks.OnArtifactOpen(ev)
	}
	p.publish(types.EventArtifactOpen, &ev, nil)
	return true
}

func (p *ParserState) consumeQuickActions(messageID string, m *MessageParseState, text string) bool {
	bodyStart := m.Cursor + len(scanner.QuickActionsOpen)
	closing := scanner.Find(text, bodyStart, scanner.QuickActionsClose)
	if closing.Status != scanner.Found {
		return false
	}
	m.emit(renderQuickActions(messageID, parseQuickActions(text[bodyStart:closing.Start])))
	m.Cursor = closing.Start + len(scanner.QuickActionsClose)
	m.markStructural()
	return true
}

// scanArtifact handles text inside an artifact but outside any action.
// Such text is hidden from the display.
func (p *ParserState) scanArtifact(messageID string, m *MessageParseState, text string) (bool, error) {
	match := scanner.FindFirst(text, m.Cursor, scanner.ActionOpen, scanner.ArtifactClose)
	switch match.Status {
	case scanner.NotFound:
		m.Cursor = len(text)
		return false, nil
	case scanner.Incomplete:
		m.Cursor = match.Start
		return false, nil
	}

	if match.Tag == scanner.ArtifactClose {
		artifact := *m.CurrentArtifact
		m.InsideArtifact = false
		m.CurrentArtifact = nil
		m.Cursor = match.Start + len(scanner.ArtifactClose)
		m.markStructural()

		ev := types.ArtifactEvent{MessageID: messageID, Artifact: artifact}
		if p.opts.Callbacks.OnArtifactClose != nil {
			p.opts.Callbacks.OnArtifactClose(ev)
		}
		p.publish(types.EventArtifactClose, &ev, nil)
		return true, nil
	}

	m.Cursor = match.Start
	accepted, incomplete := scanner.NameBoundary(text, match.Start, scanner.ActionOpen)
	if incomplete {
		return false, nil
	}
	if !accepted {
		m.Cursor = match.Start + len(scanner.ActionOpen)
		return true, nil
	}
	end, ok := scanner.TagEnd(text, match.Start)
	if !ok {
		return false, nil
	}

	tag := text[match.Start:end]
	action, attr, err := actionFromAttrs(scanner.Attributes(tag))
	if err != nil {
		return false, &ParseError{
			MessageID: messageID,
			Tag:       tag,
			Attribute: attr,
			Offset:    match.Start,
			Err:       err,
		}
	}
	if !action.Type.Known() {
		p.logger.Warn("unknown action type", map[string]any{
			"message_id": messageID,
			"type":       action.RawType,
		})
	}

	m.ActionCounter++
	m.actionID = fmt.Sprintf("%s-action-%d", messageID, m.ActionCounter)
	m.InsideAction = true
	m.CurrentAction = &action
	m.streamed = ""
	m.Cursor = end
	m.markStructural()

	p.opts.Metrics.IncActionOpened()
	ev := p.actionEvent(messageID, m, action)
	if p.opts.Callbacks.OnActionOpen != nil {
		p.opts.Callbacks.OnActionOpen(ev)
	}
	p.publish(types.EventActionOpen, nil, &ev)
	return true, nil
}

// scanAction handles an action body. The cursor stays at the start of the
// body until the close tag arrives.
func (p *ParserState) scanAction(messageID string, m *MessageParseState, text string) bool {
	match := scanner.Find(text, m.Cursor, scanner.ActionClose)
	if match.Status != scanner.Found {
		end := len(text)
		if match.Status == scanner.Incomplete {
			end = match.Start
		}
		partial := text[m.Cursor:end]
		if m.CurrentAction.Type == types.ActionTypeFile && partial != m.streamed {
			m.streamed = partial
			action := *m.CurrentAction
			action.Content = partial
			p.opts.Metrics.IncActionStreamed()
			ev := p.actionEvent(messageID, m, action)
			if p.opts.Callbacks.OnActionStream != nil {
				p.opts.Callbacks.OnActionStream(ev)
			}
			p.publish(types.EventActionStream, nil, &ev)
		}
		return false
	}

	action := *m.CurrentAction
	action.Content = finalizeContent(&action, text[m.Cursor:match.Start])
	ev := p.actionEvent(messageID, m, action)

	m.InsideAction = false
	m.CurrentAction = nil
	m.actionID = ""
	m.streamed = ""
	m.Cursor = match.Start + len(scanner.ActionClose)
	m.markStructural()

	p.opts.Metrics.IncActionClosed()
	if p.opts.Callbacks.OnActionClose != nil {
		p.opts.Callbacks.OnActionClose(ev)
	}
	p.publish(types.EventActionClose, nil, &ev)
	return true
}

func (p *ParserState) actionEvent(messageID string, m *MessageParseState, action types.Action) types.ActionEvent {
	return types.ActionEvent{
		MessageID:  messageID,
		ArtifactID: m.CurrentArtifact.ID,
		ActionID:   m.actionID,
		Action:     action,
	}
}

func (p *ParserState) publish(kind types.ParserEventKind, artifact *types.ArtifactEvent, action *types.ActionEvent) {
	if p.opts.Callbacks.OnEvent == nil {
		return
	}
	p.opts.Callbacks.OnEvent(types.ParserEvent{
		Seq:      p.seq.Add(1),
		Kind:     kind,
		Artifact: artifact,
		Action:   action,
	})
}

// IsParseError reports whether err is a parse-fatal error.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
