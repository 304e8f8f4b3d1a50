package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/stagehand/types"
)

// Sink persists batches of journal records.
type Sink interface {
	// WriteRecords persists a batch. Must preserve ordering within the batch.
	WriteRecords(ctx context.Context, records []*types.JournalRecord) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink accepts writes without persisting and tracks them for tests.
type StubSink struct {
	mu sync.Mutex

	// Batches holds every successful WriteRecords call in order.
	Batches [][]*types.JournalRecord
	// Closed indicates whether Close was called.
	Closed bool
	// ErrorOnWrite, if non-nil, is returned by WriteRecords.
	ErrorOnWrite error
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteRecords records the batch.
func (s *StubSink) WriteRecords(_ context.Context, records []*types.JournalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	batch := make([]*types.JournalRecord, len(records))
	copy(batch, records)
	s.Batches = append(s.Batches, batch)
	return nil
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SetError sets the error returned by subsequent writes.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorOnWrite = err
}

// Records returns all written records flattened in write order.
func (s *StubSink) Records() []*types.JournalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.JournalRecord
	for _, b := range s.Batches {
		out = append(out, b...)
	}
	return out
}

// BatchCount returns the number of successful writes.
func (s *StubSink) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Batches)
}

// IsClosed reports whether Close was called.
func (s *StubSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

var _ Sink = (*StubSink)(nil)
