package policy_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/stagehand/policy"
	"github.com/pithecene-io/stagehand/types"
)

func transition(seq int64) *types.JournalRecord {
	return &types.JournalRecord{
		RecordKind: types.RecordKindTransition,
		SessionID:  "sess-1",
		Seq:        seq,
		ActionID:   "m1-action-1",
		Status:     types.StatusRunning,
	}
}

func parseEvent(seq int64) *types.JournalRecord {
	return &types.JournalRecord{
		RecordKind: types.RecordKindParse,
		SessionID:  "sess-1",
		Seq:        seq,
	}
}

func seqs(records []*types.JournalRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}

func equalSeqs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIsDroppable(t *testing.T) {
	if !policy.IsDroppable(types.RecordKindParse) {
		t.Error("parse events should be droppable")
	}
	if policy.IsDroppable(types.RecordKindTransition) {
		t.Error("transitions must not be droppable")
	}
}

func TestStrictPolicy_WritesThrough(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)

	for i := int64(1); i <= 3; i++ {
		if err := pol.Ingest(t.Context(), transition(i)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	if got := sink.BatchCount(); got != 3 {
		t.Errorf("expected 3 batches, got %d", got)
	}
	stats := pol.Stats()
	if stats.TotalRecords != 3 || stats.RecordsPersisted != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStrictPolicy_SinkError(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetError(errors.New("disk full"))
	pol := policy.NewStrictPolicy(sink)

	if err := pol.Ingest(t.Context(), transition(1)); err == nil {
		t.Fatal("expected sink error")
	}
	if stats := pol.Stats(); stats.Errors != 1 || stats.RecordsPersisted != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if err := pol.Close(); err != nil {
		t.Fatal(err)
	}
	if !sink.IsClosed() {
		t.Error("Close should close the sink")
	}
}

func mustBuffered(t *testing.T, sink policy.Sink, max int) *policy.BufferedPolicy {
	t.Helper()
	pol, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{MaxBufferRecords: max})
	if err != nil {
		t.Fatalf("NewBufferedPolicy: %v", err)
	}
	return pol
}

func TestBufferedPolicy_InvalidConfig(t *testing.T) {
	if _, err := policy.NewBufferedPolicy(policy.NewStubSink(), policy.BufferedConfig{}); !errors.Is(err, policy.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBufferedPolicy_FlushWritesBatch(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustBuffered(t, sink, 10)

	for i := int64(1); i <= 5; i++ {
		if err := pol.Ingest(t.Context(), transition(i)); err != nil {
			t.Fatal(err)
		}
	}
	if sink.BatchCount() != 0 {
		t.Fatal("nothing should be written before flush")
	}
	if got := pol.Stats().Buffered; got != 5 {
		t.Errorf("expected 5 buffered, got %d", got)
	}

	if err := pol.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}
	if sink.BatchCount() != 1 {
		t.Errorf("expected 1 batch, got %d", sink.BatchCount())
	}
	if got := seqs(sink.Records()); !equalSeqs(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("written seqs = %v", got)
	}
	stats := pol.Stats()
	if stats.RecordsPersisted != 5 || stats.Buffered != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBufferedPolicy_FlushesWhenFull(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustBuffered(t, sink, 2)

	for i := int64(1); i <= 3; i++ {
		if err := pol.Ingest(t.Context(), transition(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := seqs(sink.Records()); !equalSeqs(got, []int64{1, 2}) {
		t.Errorf("written seqs = %v", got)
	}
	if got := pol.Stats().Buffered; got != 1 {
		t.Errorf("expected 1 buffered, got %d", got)
	}
}

func TestBufferedPolicy_DropRulesWhenSinkDown(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetError(errors.New("unavailable"))
	pol := mustBuffered(t, sink, 2)
	ctx := t.Context()

	_ = pol.Ingest(ctx, parseEvent(1))
	_ = pol.Ingest(ctx, transition(2))

	// Full, flush fails: incoming droppable is dropped.
	if err := pol.Ingest(ctx, parseEvent(3)); err != nil {
		t.Fatalf("droppable record should be dropped silently: %v", err)
	}
	// Full, flush fails: oldest droppable evicted for a transition.
	if err := pol.Ingest(ctx, transition(4)); err != nil {
		t.Fatalf("transition should evict a parse event: %v", err)
	}
	// Full of transitions: overflow.
	if err := pol.Ingest(ctx, transition(5)); !errors.Is(err, policy.ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	stats := pol.Stats()
	if stats.RecordsDropped != 2 || stats.DroppedByKind[types.RecordKindParse] != 2 {
		t.Errorf("stats = %+v", stats)
	}

	sink.SetError(nil)
	if err := pol.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := seqs(sink.Records()); !equalSeqs(got, []int64{2, 4}) {
		t.Errorf("written seqs = %v, want [2 4]", got)
	}
}

func TestBufferedPolicy_CloseFlushes(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustBuffered(t, sink, 10)
	_ = pol.Ingest(t.Context(), transition(1))

	if err := pol.Close(); err != nil {
		t.Fatal(err)
	}
	if len(sink.Records()) != 1 || !sink.IsClosed() {
		t.Error("Close should flush and close the sink")
	}
}

func TestBufferedPolicy_ConcurrentIngest(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustBuffered(t, sink, 16)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_ = pol.Ingest(t.Context(), transition(int64(g*100+i)))
				_ = pol.Stats()
			}
		}()
	}
	wg.Wait()
	if err := pol.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}

	stats := pol.Stats()
	if stats.TotalRecords != 200 || stats.RecordsPersisted != 200 {
		t.Errorf("stats = %+v", stats)
	}
	if len(sink.Records()) != 200 {
		t.Errorf("expected 200 records written, got %d", len(sink.Records()))
	}
}

func TestStreamingPolicy_InvalidConfig(t *testing.T) {
	if _, err := policy.NewStreamingPolicy(policy.NewStubSink(), policy.StreamingConfig{}); !errors.Is(err, policy.ErrStreamingInvalidConfig) {
		t.Errorf("expected ErrStreamingInvalidConfig, got %v", err)
	}
}

func TestStreamingPolicy_CountTrigger(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewStreamingPolicy(sink, policy.StreamingConfig{FlushCount: 3})
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 7; i++ {
		if err := pol.Ingest(t.Context(), parseEvent(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := sink.BatchCount(); got != 2 {
		t.Errorf("expected 2 count-triggered batches, got %d", got)
	}
	if err := pol.Close(); err != nil {
		t.Fatal(err)
	}
	if got := seqs(sink.Records()); !equalSeqs(got, []int64{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("written seqs = %v", got)
	}
	counts := pol.FlushCounts()
	if counts[policy.FlushTriggerCount] != 2 || counts[policy.FlushTriggerTermination] != 1 {
		t.Errorf("flush counts = %v", counts)
	}
	if stats := pol.Stats(); stats.RecordsDropped != 0 || stats.RecordsPersisted != 7 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStreamingPolicy_IntervalTrigger(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewStreamingPolicy(sink, policy.StreamingConfig{FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = pol.Close() }()

	_ = pol.Ingest(t.Context(), transition(1))

	deadline := time.Now().Add(2 * time.Second)
	for sink.BatchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.BatchCount() == 0 {
		t.Fatal("interval flush never happened")
	}
	if pol.FlushCounts()[policy.FlushTriggerInterval] == 0 {
		t.Error("expected an interval-triggered flush")
	}
}

func TestStreamingPolicy_FailedFlushRetained(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetError(errors.New("throttled"))
	pol, err := policy.NewStreamingPolicy(sink, policy.StreamingConfig{FlushCount: 2})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	_ = pol.Ingest(ctx, transition(1))
	if err := pol.Ingest(ctx, transition(2)); err == nil {
		t.Fatal("expected flush error")
	}
	if got := pol.Stats().Buffered; got != 2 {
		t.Errorf("expected batch retained, buffered = %d", got)
	}

	sink.SetError(nil)
	if err := pol.Close(); err != nil {
		t.Fatal(err)
	}
	if got := seqs(sink.Records()); !equalSeqs(got, []int64{1, 2}) {
		t.Errorf("written seqs = %v", got)
	}
}

func TestNoopPolicy(t *testing.T) {
	pol := policy.NewNoopPolicy()
	_ = pol.Ingest(t.Context(), transition(1))
	_ = pol.Ingest(t.Context(), parseEvent(2))
	_ = pol.Flush(t.Context())

	stats := pol.Stats()
	if stats.TotalRecords != 2 || stats.RecordsPersisted != 1 || stats.RecordsDropped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DroppedByKind[types.RecordKindParse] != 1 {
		t.Errorf("dropped by kind = %v", stats.DroppedByKind)
	}
	stats.DroppedByKind["x"] = 9
	if pol.Stats().DroppedByKind["x"] != 0 {
		t.Error("Stats must return a copy")
	}
}
