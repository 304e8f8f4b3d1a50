package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/stagehand/types"
)

// NoopPolicy accepts records without persisting them.
//
// Stats keep drop semantics: droppable kinds count as dropped, everything
// else counts as persisted.
type NoopPolicy struct {
	mu    sync.Mutex
	stats *statsRecorder
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// Ingest counts the record.
func (p *NoopPolicy) Ingest(_ context.Context, record *types.JournalRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.stats.TotalRecords++
	if IsDroppable(record.RecordKind) {
		p.stats.dropLocked(record.RecordKind)
	} else {
		p.stats.stats.RecordsPersisted++
	}
	return nil
}

// Flush counts the flush.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.stats.FlushCount++
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(0)
}

var _ Policy = (*NoopPolicy)(nil)
