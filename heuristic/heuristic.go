// Package heuristic repairs model output that should have been tagged but
// was not. It runs before the stream parser on every parse call and wraps
// complete, recognizable constructs (package manifests, design hand-off
// payloads, shell command blocks, file code blocks) into artifact and action
// tags. It also strips leaked UI style objects from the prose.
//
// Every classifier skips text already inside tags, so processing its own
// output is a no-op. Wrapping is deterministic: the same message prefix is
// always rewritten the same way, which lets the parser resume safely.
package heuristic

import (
	"sync"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
)

// Classifier detects one family of untagged content and rewrites it.
// Apply returns the number of rewrites made to doc.
type Classifier interface {
	Name() string
	Apply(doc *Document) int
}

// Options configures a Preprocessor.
type Options struct {
	// Classifiers run in order. Defaults to DefaultClassifiers().
	Classifiers []Classifier
	Logger      *log.Logger
	Metrics     *metrics.Collector
}

// Preprocessor runs the classifier cascade and keeps the per-message
// content-hash memory used for de-duplication.
type Preprocessor struct {
	classifiers []Classifier
	logger      *log.Logger
	metrics     *metrics.Collector

	mu   sync.Mutex
	seen map[string]map[string]int
}

// DefaultClassifiers returns the standard cascade in application order.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		Handoff{},
		Manifest{},
		ShellBlock{},
		FilePattern{},
		StyleObject{},
	}
}

// New creates a Preprocessor.
func New(opts Options) *Preprocessor {
	classifiers := opts.Classifiers
	if classifiers == nil {
		classifiers = DefaultClassifiers()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Preprocessor{
		classifiers: classifiers,
		logger:      logger,
		metrics:     opts.Metrics,
		seen:        make(map[string]map[string]int),
	}
}

func (p *Preprocessor) memory(messageID string) map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.seen[messageID]
	if !ok {
		m = make(map[string]int)
		p.seen[messageID] = m
	}
	return m
}

// Process rewrites the cumulative text of a message.
func (p *Preprocessor) Process(messageID, text string) string {
	doc := NewDocument(messageID, text, p.memory(messageID))
	for _, c := range p.classifiers {
		n := c.Apply(doc)
		if n == 0 {
			continue
		}
		p.metrics.AddRewrites(c.Name(), n)
		p.logger.Debug("untagged content rewritten", map[string]any{
			"message_id": messageID,
			"classifier": c.Name(),
			"rewrites":   n,
		})
	}
	return doc.Text
}

// Reset forgets the de-duplication memory of a message.
func (p *Preprocessor) Reset(messageID string) {
	p.mu.Lock()
	delete(p.seen, messageID)
	p.mu.Unlock()
}
