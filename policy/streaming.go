package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/types"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount triggers a flush after N records accumulate.
	// Zero disables count-based flushing.
	FlushCount int

	// FlushInterval triggers a flush every interval.
	// Zero disables interval-based flushing.
	FlushInterval time.Duration

	// Logger is an optional logger.
	Logger *log.Logger
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	// FlushTriggerCount indicates a count-threshold flush.
	FlushTriggerCount FlushTrigger = "count"
	// FlushTriggerInterval indicates an interval-based flush.
	FlushTriggerInterval FlushTrigger = "interval"
	// FlushTriggerTermination indicates a close or explicit flush.
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when StreamingConfig is invalid.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy persists continuously in batches and never drops.
//
// Records accumulate in memory and are written when FlushCount records are
// buffered or every FlushInterval, whichever fires first. A failed write
// keeps the batch buffered for the next trigger.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu     sync.Mutex
	buffer []*types.JournalRecord
	stats  *statsRecorder
	counts map[FlushTrigger]int64

	// flushMu serializes writes from the interval loop and count trigger.
	flushMu sync.Mutex

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewStreamingPolicy creates a streaming policy and starts its interval loop.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	p := &StreamingPolicy{
		sink:   sink,
		config: config,
		logger: logger,
		stats:  newStatsRecorder(),
		counts: make(map[FlushTrigger]int64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.intervalLoop()
	} else {
		close(p.done)
	}
	return p, nil
}

func (p *StreamingPolicy) intervalLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			_ = p.flush(context.Background(), FlushTriggerInterval)
		}
	}
}

// Ingest buffers record and flushes when the count threshold is reached.
func (p *StreamingPolicy) Ingest(ctx context.Context, record *types.JournalRecord) error {
	p.mu.Lock()
	p.stats.stats.TotalRecords++
	p.buffer = append(p.buffer, record)
	trigger := p.config.FlushCount > 0 && len(p.buffer) >= p.config.FlushCount
	p.mu.Unlock()

	if trigger {
		return p.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything buffered.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.flush(ctx, FlushTriggerTermination)
}

func (p *StreamingPolicy) flush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	if len(batch) > 0 {
		p.stats.stats.FlushCount++
		p.counts[trigger]++
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := p.sink.WriteRecords(ctx, batch)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.stats.stats.Errors++
		p.buffer = append(batch, p.buffer...)
		p.logger.Warn("streaming flush failed", map[string]any{
			"trigger": string(trigger),
			"records": len(batch),
			"error":   err.Error(),
		})
		return err
	}
	p.stats.stats.RecordsPersisted += int64(len(batch))
	return nil
}

// FlushCounts returns how many flushes each trigger caused.
func (p *StreamingPolicy) FlushCounts() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[FlushTrigger]int64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Close stops the interval loop, flushes and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	flushErr := p.flush(context.Background(), FlushTriggerTermination)
	return errors.Join(flushErr, p.sink.Close())
}

// Stats returns policy statistics.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(int64(len(p.buffer)))
}

var _ Policy = (*StreamingPolicy)(nil)
