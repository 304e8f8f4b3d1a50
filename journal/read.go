package journal

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/stagehand/types"
)

// ErrNoRecords is returned when a session has no journal records.
var ErrNoRecords = errors.New("no journal records found")

// NewReadDataset creates a Lode Dataset using the write path's codec and layout.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS creates a read Dataset with filesystem storage.
func NewReadDatasetFS(dataset, root string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(root))
}

// NewReadDatasetS3 creates a read Dataset with S3 storage.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewReadDataset(dataset, factory)
}

// ReadRecords returns every record of a session ordered by seq.
// Snapshots may repeat records; each (runner_id, seq) pair is kept once.
func ReadRecords(ctx context.Context, ds lode.Dataset, sessionID string) ([]types.JournalRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	type key struct {
		runner string
		seq    int64
	}
	seen := make(map[key]bool)
	var out []types.JournalRecord
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "session_id", sessionID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			rec, ok := decodeRecord(item)
			if !ok || (sessionID != "" && rec.SessionID != sessionID) {
				continue
			}
			k := key{rec.RunnerID, rec.Seq}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	slices.SortStableFunc(out, func(a, b types.JournalRecord) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return strings.Compare(a.RunnerID, b.RunnerID)
	})
	return out, nil
}

// Sessions lists the session IDs present in the dataset, oldest first.
func Sessions(ctx context.Context, ds lode.Dataset) ([]string, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}
	var ids []string
	for _, snap := range snapshots {
		for _, f := range snap.Manifest.Files {
			id := partitionValue(f.Path, "session_id")
			if id != "" && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ReplayStates folds transition records into the final state of each
// action, in first-seen order.
func ReplayStates(records []types.JournalRecord) []types.ActionState {
	index := make(map[string]int)
	var states []types.ActionState
	for _, rec := range records {
		if rec.RecordKind != types.RecordKindTransition || rec.ActionID == "" {
			continue
		}
		i, ok := index[rec.ActionID]
		if !ok {
			i = len(states)
			index[rec.ActionID] = i
			states = append(states, types.ActionState{
				ID:         rec.ActionID,
				MessageID:  rec.MessageID,
				ArtifactID: rec.ArtifactID,
				Action:     types.Action{Type: rec.ActionType},
			})
		}
		st := &states[i]
		ts, _ := time.Parse(time.RFC3339Nano, rec.Ts)
		switch {
		case rec.Status == types.StatusPending:
			st.QueuedAt = ts
		case rec.Status == types.StatusRunning && st.StartedAt.IsZero():
			st.StartedAt = ts
			st.Executed = true
		case rec.Status.IsTerminal():
			st.EndedAt = ts
		}
		st.Status = rec.Status
		st.Error = rec.Error
		if rec.Detail != "" {
			st.Result = rec.Detail
		}
	}
	return states
}

// decodeRecord converts a JSONL row back into a record.
func decodeRecord(item any) (types.JournalRecord, bool) {
	var rec types.JournalRecord
	m, ok := item.(map[string]any)
	if !ok {
		return rec, false
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return rec, false
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false
	}
	return rec, rec.RecordKind != ""
}

// snapshotMatchesFilter checks a snapshot's file paths for a key=value
// partition. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if partitionValue(f.Path, key) == value {
			return true
		}
	}
	return false
}

// partitionValue extracts the value of an exact key= segment from a
// Hive-partitioned path.
func partitionValue(path, key string) string {
	for part := range strings.SplitSeq(path, "/") {
		if v, ok := strings.CutPrefix(part, key+"="); ok {
			return v
		}
	}
	return ""
}
