package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/stagehand/iox"
	"github.com/pithecene-io/stagehand/types"
)

// ErrInvalidFilename is returned for sidecar names with path separators.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

// LodeClient is the Lode-backed Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewFSClient creates a client with filesystem storage under root.
func NewFSClient(cfg Config, root string) (*LodeClient, error) {
	return NewClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewClientWithFactory creates a client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("journal client requires a session ID")
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}, nil
}

// Dataset returns the underlying dataset for read-back.
func (c *LodeClient) Dataset() lode.Dataset {
	return c.dataset
}

// WriteRecords writes a batch of records in order.
func (c *LodeClient) WriteRecords(ctx context.Context, records []*types.JournalRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([]any, 0, len(records))
	for _, r := range records {
		batch = append(batch, toRecordMap(r, c.config))
	}
	if _, err := c.dataset.Write(ctx, batch, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}
	return nil
}

// PutFile writes a sidecar file for the session.
func (c *LodeClient) PutFile(ctx context.Context, filename string, data []byte) error {
	path, err := c.filePath(filename)
	if err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

// ReadFile reads a sidecar file written by PutFile.
func (c *LodeClient) ReadFile(ctx context.Context, filename string) ([]byte, error) {
	path, err := c.filePath(filename)
	if err != nil {
		return nil, err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, c.config.Dataset)
	}
	rc, err := store.Get(ctx, path)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	return data, nil
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// filePath computes the sidecar path:
// datasets/<dataset>/partitions/session_id=<s>/day=<d>/files/<filename>
func (c *LodeClient) filePath(filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return fmt.Sprintf("datasets/%s/partitions/session_id=%s/day=%s/files/%s",
		c.config.Dataset, c.config.SessionID, c.config.Day, filename), nil
}

// toRecordMap converts a record for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toRecordMap(r *types.JournalRecord, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": r.RecordKind,
		"version":     r.Version,
		"session_id":  cfg.SessionID,
		"seq":         r.Seq,
		"ts":          r.Ts,
		"day":         cfg.Day,
	}
	optional := map[string]string{
		"runner_id":   r.RunnerID,
		"action_id":   r.ActionID,
		"message_id":  r.MessageID,
		"artifact_id": r.ArtifactID,
		"action_type": string(r.ActionType),
		"status":      string(r.Status),
		"error":       r.Error,
		"detail":      r.Detail,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

var _ Client = (*LodeClient)(nil)
