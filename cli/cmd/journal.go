package cmd

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/config"
	"github.com/pithecene-io/stagehand/journal"
	"github.com/pithecene-io/stagehand/types"
)

// journalConfig resolves the journal location of read-only commands from
// stagehand.yaml and the --journal and --journal-path flags. A missing or
// "none" backend falls back to the default fs journal.
func journalConfig(c *cli.Context) (config.JournalConfig, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return config.JournalConfig{}, err
	}
	jc := cfg.Journal
	if c.IsSet("journal") {
		jc.Backend = c.String("journal")
	}
	if c.IsSet("journal-path") {
		jc.Path = c.String("journal-path")
	}
	switch jc.Backend {
	case "", "none":
		jc.Backend = "fs"
	case "fs", "s3":
	default:
		return jc, fmt.Errorf("unknown journal backend %q (want fs or s3)", jc.Backend)
	}
	if jc.Backend == "fs" && jc.Path == "" {
		jc.Path = defaultJournalPath
	}
	if jc.Dataset == "" {
		jc.Dataset = journal.DefaultDataset
	}
	return jc, nil
}

func s3Config(jc config.JournalConfig) journal.S3Config {
	bucket, prefix := journal.ParseS3Path(jc.Path)
	return journal.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       jc.Region,
		Endpoint:     jc.Endpoint,
		UsePathStyle: jc.S3PathStyle,
	}
}

func openDataset(ctx context.Context, jc config.JournalConfig) (lode.Dataset, error) {
	if jc.Backend == "s3" {
		return journal.NewReadDatasetS3(ctx, jc.Dataset, s3Config(jc))
	}
	return journal.NewReadDatasetFS(jc.Dataset, jc.Path)
}

// openSessionFiles returns a client for the sidecar files of one session
// partition.
func openSessionFiles(ctx context.Context, jc config.JournalConfig, sessionID, day string) (*journal.LodeClient, error) {
	cfg := journal.Config{Dataset: jc.Dataset, SessionID: sessionID, Day: day}
	if jc.Backend == "s3" {
		return journal.NewS3Client(ctx, cfg, s3Config(jc))
	}
	return journal.NewFSClient(cfg, jc.Path)
}

// sessionRecords reads every record of a session.
func sessionRecords(ctx context.Context, jc config.JournalConfig, sessionID string) ([]types.JournalRecord, error) {
	ds, err := openDataset(ctx, jc)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	records, err := journal.ReadRecords(ctx, ds, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return records, nil
}

// readSidecar reads a sidecar file of a session. The partition day comes
// from the session's records.
func readSidecar(ctx context.Context, jc config.JournalConfig, sessionID, name string) ([]byte, error) {
	records, err := sessionRecords(ctx, jc, sessionID)
	if err != nil {
		return nil, err
	}
	client, err := openSessionFiles(ctx, jc, sessionID, records[0].Day)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()
	return client.ReadFile(ctx, name)
}
