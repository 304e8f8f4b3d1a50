package journal

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/policy"
	"github.com/pithecene-io/stagehand/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testConfig() Config {
	return Config{Dataset: "stagehand", SessionID: "sess-1", Day: "2026-10-18"}
}

func transitionRecord(seq int64, actionID string, status types.ActionStatus) *types.JournalRecord {
	return &types.JournalRecord{
		RecordKind: types.RecordKindTransition,
		Version:    types.Version,
		SessionID:  "sess-1",
		RunnerID:   "runner-1",
		Seq:        seq,
		Ts:         time.Date(2026, 10, 18, 12, 0, int(seq), 0, time.UTC).Format(time.RFC3339Nano),
		ActionID:   actionID,
		MessageID:  "msg",
		ArtifactID: "msg-0",
		ActionType: types.ActionTypeShell,
		Status:     status,
	}
}

func TestNewClient_RequiresSession(t *testing.T) {
	if _, err := NewClientWithFactory(Config{}, lode.NewMemoryFactory()); err == nil {
		t.Fatal("expected error for missing session ID")
	}
}

func TestLodeClient_WriteAndReadBack(t *testing.T) {
	store := lode.NewMemory()
	client, err := NewClientWithFactory(testConfig(), sharedFactory(store))
	if err != nil {
		t.Fatalf("NewClientWithFactory failed: %v", err)
	}

	records := []*types.JournalRecord{
		transitionRecord(1, "msg-action-0", types.StatusPending),
		transitionRecord(2, "msg-action-0", types.StatusRunning),
	}
	if err := client.WriteRecords(t.Context(), records); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	// Second batch repeats seq 2; read-back keeps it once.
	records = []*types.JournalRecord{
		transitionRecord(2, "msg-action-0", types.StatusRunning),
		transitionRecord(3, "msg-action-0", types.StatusComplete),
	}
	if err := client.WriteRecords(t.Context(), records); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	ds, err := NewReadDataset("stagehand", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	got, err := ReadRecords(t.Context(), ds, "sess-1")
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	var seqs []int64
	for _, r := range got {
		seqs = append(seqs, r.Seq)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, seqs); diff != "" {
		t.Errorf("seqs mismatch (-want +got):\n%s", diff)
	}
	if got[0].Day != "2026-10-18" || got[0].SessionID != "sess-1" {
		t.Errorf("partition fields not stamped: %+v", got[0])
	}

	if _, err := ReadRecords(t.Context(), ds, "other"); !errors.Is(err, ErrNoRecords) {
		t.Errorf("ReadRecords(other) error = %v, want ErrNoRecords", err)
	}

	sessions, err := Sessions(t.Context(), ds)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if diff := cmp.Diff([]string{"sess-1"}, sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestLodeClient_EmptyBatch(t *testing.T) {
	client, err := NewClientWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewClientWithFactory failed: %v", err)
	}
	if err := client.WriteRecords(t.Context(), nil); err != nil {
		t.Errorf("WriteRecords(nil) = %v", err)
	}
}

func TestLodeClient_SidecarFiles(t *testing.T) {
	client, err := NewClientWithFactory(testConfig(), sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("NewClientWithFactory failed: %v", err)
	}
	if err := client.PutFile(t.Context(), "transcript.txt", []byte("hello")); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	data, err := client.ReadFile(t.Context(), "transcript.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadFile = %q", data)
	}

	for _, name := range []string{"", "../x", "a/b", `a\b`} {
		if err := client.PutFile(t.Context(), name, nil); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("PutFile(%q) error = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestLodeClient_SidecarPath(t *testing.T) {
	client, err := NewClientWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewClientWithFactory failed: %v", err)
	}
	got, err := client.filePath("report.json")
	if err != nil {
		t.Fatal(err)
	}
	want := "datasets/stagehand/partitions/session_id=sess-1/day=2026-10-18/files/report.json"
	if got != want {
		t.Errorf("filePath = %q, want %q", got, want)
	}
}

// failingStore is a lode.Store whose writes fail.
type failingStore struct {
	err error
}

func (s *failingStore) Put(context.Context, string, io.Reader) error { return s.err }
func (s *failingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, s.err
}
func (s *failingStore) Exists(context.Context, string) (bool, error)  { return false, nil }
func (s *failingStore) List(context.Context, string) ([]string, error) { return nil, nil }
func (s *failingStore) Delete(context.Context, string) error           { return s.err }
func (s *failingStore) ReadRange(context.Context, string, int64, int64) ([]byte, error) {
	return nil, s.err
}
func (s *failingStore) ReaderAt(context.Context, string) (io.ReaderAt, error) {
	return nil, s.err
}

var _ lode.Store = (*failingStore)(nil)

func TestLodeClient_WriteFailureClassified(t *testing.T) {
	store := &failingStore{err: errors.New("write /data: no space left on device")}
	client, err := NewClientWithFactory(testConfig(), sharedFactory(store))
	if err != nil {
		t.Fatalf("NewClientWithFactory failed: %v", err)
	}
	err = client.WriteRecords(t.Context(), []*types.JournalRecord{transitionRecord(1, "a", types.StatusPending)})
	if err == nil {
		t.Fatal("expected write error")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "write" || !errors.Is(err, ErrDiskFull) {
		t.Errorf("StorageError = %+v, want write/disk full", se)
	}

	if err := client.PutFile(t.Context(), "x.txt", []byte("x")); !errors.Is(err, ErrDiskFull) {
		t.Errorf("PutFile error = %v, want ErrDiskFull", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o" }
func (timeoutError) Timeout() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"typed timeout", timeoutError{}, ErrTimeout},
		{"deadline", errors.New("context deadline exceeded"), ErrTimeout},
		{"s3 access denied", errors.New("AccessDenied: nope"), ErrAccessDenied},
		{"http 403", errors.New("status 403"), ErrAccessDenied},
		{"eacces", errors.New("open /x: permission denied"), ErrPermissionDenied},
		{"missing key", errors.New("NoSuchKey: gone"), ErrNotFound},
		{"enoent", errors.New("open /x: no such file or directory"), ErrNotFound},
		{"disk full", errors.New("ENOSPC"), ErrDiskFull},
		{"throttled", errors.New("SlowDown: please reduce"), ErrThrottled},
		{"expired", errors.New("ExpiredToken: refresh"), ErrAuth},
		{"refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrNetwork},
		{"other", errors.New("bad things"), ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapErrors_Nil(t *testing.T) {
	if WrapWriteError(nil, "p") != nil || WrapReadError(nil, "p") != nil || WrapInitError(nil, "d") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := WrapReadError(cause, "datasets/x")
	if !errors.Is(err, cause) {
		t.Error("original error lost from chain")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("classification lost")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("unexpected classification match")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/prefix", "bucket", "prefix"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q,%q", tt.in, b, p)
		}
	}
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("empty bucket must fail validation")
	}
}

func TestInstrumentedSink(t *testing.T) {
	collector := metrics.NewCollector("strict", "memory", "memory", "sess-1")
	inner := policy.NewStubSink()
	sink := NewInstrumentedSink(inner, collector)

	if err := sink.WriteRecords(t.Context(), []*types.JournalRecord{transitionRecord(1, "a", types.StatusPending)}); err != nil {
		t.Fatal(err)
	}
	inner.SetError(errors.New("down"))
	if err := sink.WriteRecords(t.Context(), []*types.JournalRecord{transitionRecord(2, "a", types.StatusRunning)}); err == nil {
		t.Fatal("expected error")
	}
	snap := collector.Snapshot()
	if snap.JournalWriteSuccess != 1 || snap.JournalWriteFailure != 1 {
		t.Errorf("success=%d failure=%d, want 1/1", snap.JournalWriteSuccess, snap.JournalWriteFailure)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if !inner.IsClosed() {
		t.Error("inner sink not closed")
	}
}

func TestDeriveDay(t *testing.T) {
	ts := time.Date(2026, 10, 18, 23, 30, 0, 0, time.FixedZone("X", -3*3600))
	if got := DeriveDay(ts); got != "2026-10-19" {
		t.Errorf("DeriveDay = %q, want UTC day 2026-10-19", got)
	}
}
