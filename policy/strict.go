package policy

import (
	"context"

	"github.com/pithecene-io/stagehand/types"
)

// StrictPolicy writes every record through to the sink immediately.
// Nothing is buffered or dropped; the caller blocks on sink latency.
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// Ingest writes the record as a batch of one.
func (p *StrictPolicy) Ingest(ctx context.Context, record *types.JournalRecord) error {
	p.stats.update(func(s *Stats) { s.TotalRecords++ })

	if err := p.sink.WriteRecords(ctx, []*types.JournalRecord{record}); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}

	p.stats.update(func(s *Stats) { s.RecordsPersisted++ })
	return nil
}

// Flush is a no-op apart from counting.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
