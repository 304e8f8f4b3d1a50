package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of buffered records (required).
	MaxBufferRecords int

	// Logger is an optional logger for drop and flush failures.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{MaxBufferRecords: 64}
}

// ErrBufferFull is returned when the buffer is full, a flush failed, and
// the incoming record may not be dropped.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable record")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: MaxBufferRecords must be positive")

// BufferedPolicy batches records and writes them on Flush.
//
// When the buffer is full it first tries to flush. If the flush fails:
//   - an incoming droppable record is dropped
//   - otherwise the oldest buffered droppable record is evicted
//   - otherwise ErrBufferFull is returned
//
// Flush failures keep the batch buffered; a later flush may write duplicates
// of records that a partial sink write already persisted.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu       sync.Mutex
	buffer   []*types.JournalRecord
	inflight int // records handed to the sink by a running Flush
	stats    *statsRecorder

	flushMu sync.Mutex
}

// NewBufferedPolicy creates a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 {
		return nil, ErrInvalidConfig
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: logger,
		buffer: make([]*types.JournalRecord, 0, config.MaxBufferRecords),
		stats:  newStatsRecorder(),
	}, nil
}

// Ingest buffers record, applying drop rules when the buffer is full and
// cannot be flushed.
func (p *BufferedPolicy) Ingest(ctx context.Context, record *types.JournalRecord) error {
	p.mu.Lock()
	p.stats.stats.TotalRecords++
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.hasRoomLocked() {
			p.buffer = append(p.buffer, record)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if err := p.Flush(ctx); err != nil {
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasRoomLocked() {
		p.buffer = append(p.buffer, record)
		return nil
	}
	if IsDroppable(record.RecordKind) {
		p.stats.dropLocked(record.RecordKind)
		p.logDrop(record.RecordKind, "buffer_full")
		return nil
	}
	if p.evictOldestDroppable() {
		p.buffer = append(p.buffer, record)
		return nil
	}

	p.stats.stats.Errors++
	p.logger.Error("buffer overflow", map[string]any{
		"record_kind": record.RecordKind,
		"policy":      "buffered",
	})
	return ErrBufferFull
}

// Flush writes all buffered records in one batch. On failure the batch is
// put back in front of anything buffered meanwhile.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.stats.FlushCount++
	batch := p.buffer
	p.buffer = make([]*types.JournalRecord, 0, p.config.MaxBufferRecords)
	p.inflight = len(batch)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := p.sink.WriteRecords(ctx, batch)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = 0
	if err != nil {
		p.stats.stats.Errors++
		p.buffer = append(batch, p.buffer...)
		p.logger.Error("flush failed", map[string]any{
			"records": len(batch),
			"error":   err.Error(),
			"policy":  "buffered",
		})
		return err
	}
	p.stats.stats.RecordsPersisted += int64(len(batch))
	return nil
}

// Close flushes remaining records and closes the sink.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	return errors.Join(flushErr, p.sink.Close())
}

// Stats returns policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(int64(len(p.buffer) + p.inflight))
}

func (p *BufferedPolicy) hasRoomLocked() bool {
	return len(p.buffer)+p.inflight < p.config.MaxBufferRecords
}

// evictOldestDroppable removes the oldest droppable record. Caller must hold mu.
func (p *BufferedPolicy) evictOldestDroppable() bool {
	for i, r := range p.buffer {
		if IsDroppable(r.RecordKind) {
			p.buffer = append(p.buffer[:i], p.buffer[i+1:]...)
			p.stats.dropLocked(r.RecordKind)
			p.logDrop(r.RecordKind, "evicted_for_non_droppable")
			return true
		}
	}
	return false
}

func (p *BufferedPolicy) logDrop(kind, reason string) {
	p.logger.Warn("record dropped", map[string]any{
		"record_kind": kind,
		"reason":      reason,
		"policy":      "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
