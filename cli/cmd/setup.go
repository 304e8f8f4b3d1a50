package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/stagehand/alert"
	"github.com/pithecene-io/stagehand/alert/redis"
	"github.com/pithecene-io/stagehand/alert/webhook"
	"github.com/pithecene-io/stagehand/cli/config"
	"github.com/pithecene-io/stagehand/fetch"
	"github.com/pithecene-io/stagehand/journal"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/policy"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/sandbox"
	"github.com/pithecene-io/stagehand/session"
)

// Exit codes of commands that execute actions.
const (
	exitSuccess      = 0
	exitActionFailed = 1
	exitParseError   = 2
	exitSetupError   = 3
)

// Defaults applied after config and flags are merged.
const (
	defaultSandboxMode = "local"
	defaultSandboxRoot = "."
	defaultBackend     = "none"
	defaultPolicy      = "strict"
	defaultAlerts      = "log"
	defaultJournalPath = ".stagehand"
	defaultFlushCount  = 16
)

// loadConfig reads stagehand.yaml (if any) and applies flag overrides.
// A flag only overrides its config key when it was set explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setBool := func(flag string, dst *bool) {
		if c.IsSet(flag) {
			*dst = c.Bool(flag)
		}
	}
	setString("session", &cfg.Session)
	setString("sandbox", &cfg.Sandbox.Mode)
	setString("root", &cfg.Sandbox.Root)
	setString("sandbox-url", &cfg.Sandbox.URL)
	setBool("halt-on-failure", &cfg.Runner.HaltOnShellFailure)
	setString("build-command", &cfg.Runner.BuildCommand)
	setString("journal", &cfg.Journal.Backend)
	setString("journal-path", &cfg.Journal.Path)
	setString("journal-policy", &cfg.Journal.Policy)
	setBool("record-parse-events", &cfg.Journal.RecordParseEvents)
	setString("alerts", &cfg.Alerts.Type)
	setString("alerts-url", &cfg.Alerts.URL)
}

func applyDefaults(cfg *config.Config) {
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = defaultSandboxMode
	}
	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = defaultSandboxRoot
	}
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = defaultBackend
	}
	if cfg.Journal.Backend == "fs" && cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath
	}
	if cfg.Journal.Dataset == "" {
		cfg.Journal.Dataset = journal.DefaultDataset
	}
	if cfg.Journal.Policy == "" {
		cfg.Journal.Policy = defaultPolicy
	}
	if cfg.Alerts.Type == "" {
		cfg.Alerts.Type = defaultAlerts
	}
}

// env is everything a session command needs. close releases resources in
// reverse construction order.
type env struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector
	session *session.Session
	closers []func() error
}

func (e *env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

func (e *env) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

// setupOptions carries per-command session settings that are not part of
// stagehand.yaml.
type setupOptions struct {
	disableHeuristics bool
	sandbox           sandbox.Sandbox // overrides the configured sandbox
	logOutput         io.Writer
}

// newEnv builds the session and its collaborators from merged config. On
// error every resource created so far is released.
func newEnv(ctx context.Context, cfg *config.Config, level string, opts setupOptions) (_ *env, err error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}

	e := &env{
		cfg:    cfg,
		logger: log.NewLoggerWithLevel(cfg.Session, out, lvl),
	}
	defer func() {
		if err != nil {
			_ = e.close()
		}
	}()

	policyName := cfg.Journal.Policy
	if cfg.Journal.Backend == "none" {
		policyName = ""
	}
	e.metrics = metrics.NewCollector(policyName, cfg.Sandbox.Mode, cfg.Journal.Backend, cfg.Session)

	sb := opts.sandbox
	if sb == nil {
		if sb, err = buildSandbox(ctx, e, cfg.Sandbox); err != nil {
			return nil, err
		}
	}

	publisher, err := buildAlerts(e, cfg.Alerts)
	if err != nil {
		return nil, err
	}

	recorder, files, err := buildJournal(ctx, e, cfg.Journal)
	if err != nil {
		return nil, err
	}

	rc := cfg.Runner
	e.session, err = session.New(session.Config{
		ID:      cfg.Session,
		Sandbox: sb,
		Runner: runner.Config{
			ShellTimeout:       rc.ShellTimeout.Duration,
			FileTimeout:        rc.FileTimeout.Duration,
			InstallTimeout:     rc.InstallTimeout.Duration,
			InstallPoll:        rc.InstallPoll.Duration,
			InstallQuiet:       rc.InstallQuiet.Duration,
			StartGrace:         rc.StartGrace.Duration,
			BuildCommand:       rc.BuildCommand,
			OutputDirs:         rc.OutputDirs,
			HaltOnShellFailure: rc.HaltOnShellFailure,
			Fetcher: fetch.New(fetch.Config{
				Timeout:     cfg.Fetch.Timeout.Duration,
				S3Region:    cfg.Fetch.S3Region,
				S3Endpoint:  cfg.Fetch.S3Endpoint,
				S3PathStyle: cfg.Fetch.S3PathStyle,
			}),
			Alerts: publisher,
		},
		DisableHeuristics: opts.disableHeuristics,
		Recorder:          recorder,
		JournalPolicy:     policyName,
		Files:             files,
		Logger:            e.logger,
		Metrics:           e.metrics,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildSandbox(ctx context.Context, e *env, sc config.SandboxConfig) (sandbox.Sandbox, error) {
	switch sc.Mode {
	case "remote":
		retries := sandbox.DefaultRetries
		if sc.Retries != nil {
			retries = *sc.Retries
		}
		remote, err := sandbox.NewRemote(sandbox.RemoteConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Timeout: sc.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("remote sandbox: %w", err)
		}
		e.onClose(remote.Close)
		if err := remote.Ping(ctx); err != nil {
			return nil, fmt.Errorf("remote sandbox unreachable: %w", err)
		}
		e.logger.Info("using remote sandbox", map[string]any{"url": sc.URL})
		return remote, nil
	default:
		local, err := sandbox.NewLocal(sandbox.LocalConfig{
			Root:   sc.Root,
			Logger: e.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("local sandbox: %w", err)
		}
		e.logger.Info("using local sandbox", map[string]any{"root": local.Root()})
		return local, nil
	}
}

// buildAlerts creates the alert publisher. The publisher does not own its
// sink, so the sink is closed with the env.
func buildAlerts(e *env, ac config.AlertsConfig) (*alert.Publisher, error) {
	var sink alert.Sink
	switch ac.Type {
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		s, err := webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook alerts: %w", err)
		}
		// Alerts stay visible in the log when the webhook is down.
		sink = alert.Multi{alert.NewLogSink(e.logger), s}
	case "redis":
		retries := redis.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		s, err := redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			PerKind: ac.PerKind,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("redis alerts: %w", err)
		}
		sink = alert.Multi{alert.NewLogSink(e.logger), s}
	default:
		sink = alert.NewLogSink(e.logger)
	}
	e.onClose(sink.Close)
	return alert.NewPublisher(sink, e.cfg.Session, e.logger, e.metrics), nil
}

// buildJournal creates the recorder and the sidecar file store. Backend
// "none" returns nil for both.
func buildJournal(ctx context.Context, e *env, jc config.JournalConfig) (*journal.Recorder, session.FileStore, error) {
	jcfg := journal.Config{
		Dataset:   jc.Dataset,
		SessionID: e.cfg.Session,
		Day:       journal.DeriveDay(time.Now()),
	}

	var client *journal.LodeClient
	var err error
	switch jc.Backend {
	case "none":
		return nil, nil, nil
	case "s3":
		bucket, prefix := journal.ParseS3Path(jc.Path)
		client, err = journal.NewS3Client(ctx, jcfg, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       jc.Region,
			Endpoint:     jc.Endpoint,
			UsePathStyle: jc.S3PathStyle,
		})
	default:
		client, err = journal.NewFSClient(jcfg, jc.Path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("journal %s: %w", jc.Backend, err)
	}

	pol, err := buildPolicy(journal.NewInstrumentedSink(client, e.metrics), jc, e.logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if jc.Policy == "noop" {
		// Noop never closes its sink.
		e.onClose(client.Close)
	}

	e.logger.Info("journal enabled", map[string]any{
		"backend": jc.Backend,
		"path":    jc.Path,
		"policy":  jc.Policy,
	})
	return journal.NewRecorder(pol, journal.RecorderConfig{
		SessionID:         e.cfg.Session,
		Day:               jcfg.Day,
		RecordParseEvents: jc.RecordParseEvents,
		Logger:            e.logger,
		Metrics:           e.metrics,
	}), client, nil
}

func buildPolicy(sink policy.Sink, jc config.JournalConfig, logger *log.Logger) (policy.Policy, error) {
	switch jc.Policy {
	case "buffered":
		bc := policy.DefaultBufferedConfig()
		if jc.BufferRecords > 0 {
			bc.MaxBufferRecords = jc.BufferRecords
		}
		bc.Logger = logger
		return policy.NewBufferedPolicy(sink, bc)
	case "streaming":
		count := jc.FlushCount
		if count == 0 && jc.FlushInterval.Duration <= 0 {
			count = defaultFlushCount
		}
		return policy.NewStreamingPolicy(sink, policy.StreamingConfig{
			FlushCount:    count,
			FlushInterval: jc.FlushInterval.Duration,
			Logger:        logger,
		})
	case "noop":
		return policy.NewNoopPolicy(), nil
	default:
		return policy.NewStrictPolicy(sink), nil
	}
}

// setupExit wraps a setup failure with its exit code.
func setupExit(err error) error {
	return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitSetupError)
}
