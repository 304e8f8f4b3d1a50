package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/stream"
)

// errIdle ends a watch after the idle timeout.
var errIdle = errors.New("idle timeout")

// WatchCommand returns the watch command. It follows a transcript file that
// another process keeps appending to, feeding the cumulative text to the
// session on every write.
func WatchCommand() *cli.Command {
	flags := append(SessionFlags(),
		&cli.StringFlag{
			Name:  "message-id",
			Usage: "Message ID of the watched file",
			Value: "m",
		},
		&cli.DurationFlag{
			Name:  "idle",
			Usage: "Stop after this long without writes (0 waits for a signal)",
		},
		FormatFlag,
		NoColorFlag,
	)
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a growing transcript file into a session",
		ArgsUsage: "FILE",
		Flags:     flags,
		Action:    watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("watch requires exactly one FILE argument", exitSetupError)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return setupExit(err)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return setupExit(err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, cfg, c.String("log-level"), setupOptions{
		disableHeuristics: c.Bool("no-heuristics"),
		logOutput:         c.App.ErrWriter,
	})
	if err != nil {
		return setupExit(err)
	}
	defer func() { _ = e.close() }()

	report, err := watchFile(ctx, e, path, c.String("message-id"), c.Duration("idle"))
	parseErrs := 0
	switch {
	case stream.IsParseError(err):
		parseErrs = 1
		e.logger.Error("message rejected", map[string]any{"error": err.Error()})
	case err != nil && report == nil:
		return setupExit(err)
	case err != nil:
		e.logger.Error("watch failed", map[string]any{"error": err.Error()})
	}

	if err := r.Render(report); err != nil {
		return err
	}
	if p := c.String("report"); p != "" {
		if err := runner.WriteReport(report, p); err != nil {
			return err
		}
	}
	if code := exitCode(report, parseErrs); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// watchFile feeds path to the session until ctx ends, the idle timeout
// passes or the parser rejects the text. It then drains the chain and
// closes the session. The report is nil only when watching never started.
func watchFile(ctx context.Context, e *env, path, msgID string, idle time.Duration) (*runner.Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so that files replaced by rename are followed.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	e.logger.Info("watching transcript", map[string]any{"path": abs, "message_id": msgID})

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	notify()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) == abs && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watcher: %w", err)
			}
		}
	})
	g.Go(func() error {
		return feedOnChange(gctx, e, abs, msgID, changed, idle)
	})

	werr := g.Wait()
	if errors.Is(werr, errIdle) {
		e.logger.Info("watch idle, finishing", map[string]any{"idle": idle.String()})
		werr = nil
	}
	if err := e.session.Wait(ctx); err != nil {
		e.logger.Warn("interrupted, aborting queued actions", map[string]any{"error": err.Error()})
	}
	report, cerr := e.session.Close(context.WithoutCancel(ctx))
	return report, errors.Join(werr, cerr)
}

// feedOnChange re-reads the file on every change signal and feeds the text
// when it grew. It returns nil when ctx ends.
func feedOnChange(ctx context.Context, e *env, path, msgID string, changed <-chan struct{}, idle time.Duration) error {
	var timer <-chan time.Time
	var t *time.Timer
	if idle > 0 {
		t = time.NewTimer(idle)
		defer t.Stop()
		timer = t.C
	}

	last := -1
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer:
			return errIdle
		case <-changed:
		}

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if len(data) == last {
			continue
		}
		if len(data) < last {
			// Truncated or replaced: parse from scratch.
			e.session.Reset(msgID)
		}
		last = len(data)
		if t != nil {
			t.Reset(idle)
		}
		if _, err := e.session.Feed(ctx, msgID, string(data)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
