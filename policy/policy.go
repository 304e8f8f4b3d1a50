// Package policy defines how journal records reach storage.
//
// A Policy sits between the recorder and the journal sink and decides when
// records are written and which may be dropped under pressure:
//   - May drop: parse_event records
//   - Must NOT drop: action_transition records
//   - Policy must not alter record contents
//
// Journal failures never stop the action chain; callers log and count them.
package policy

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/stagehand/types"
)

// Policy controls buffering, dropping and persistence of journal records.
type Policy interface {
	// Ingest handles one record. May drop droppable kinds.
	Ingest(ctx context.Context, record *types.JournalRecord) error

	// Flush writes any buffered records.
	Flush(ctx context.Context) error

	// Close flushes and releases resources, including the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats is a point-in-time view of policy counters.
type Stats struct {
	// TotalRecords is the number of records received.
	TotalRecords int64
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64
	// RecordsDropped is the number of records dropped.
	RecordsDropped int64
	// DroppedByKind maps record kinds to drop counts.
	DroppedByKind map[string]int64
	// Buffered is the number of records currently buffered.
	Buffered int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the number of sink failures.
	Errors int64
}

// droppableKinds lists record kinds a policy may drop.
var droppableKinds = map[string]bool{
	types.RecordKindParse: true,
}

// IsDroppable reports whether records of kind may be dropped by policy.
func IsDroppable(kind string) bool {
	return droppableKinds[kind]
}

// statsRecorder guards Stats for policies without their own buffer lock.
// The Locked variants are for callers already holding their buffer mutex.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: Stats{DroppedByKind: make(map[string]int64)}}
}

func (r *statsRecorder) update(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.Buffered)
}

// snapshotLocked copies stats with the given buffer size.
// Caller must hold the owning policy's buffer mutex.
func (r *statsRecorder) snapshotLocked(buffered int64) Stats {
	s := r.stats
	s.Buffered = buffered
	s.DroppedByKind = maps.Clone(r.stats.DroppedByKind)
	return s
}

func (r *statsRecorder) dropLocked(kind string) {
	r.stats.RecordsDropped++
	r.stats.DroppedByKind[kind]++
}
