package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/stream"
)

// RunCommand returns the run command, which parses model messages and
// executes their actions against the configured sandbox.
func RunCommand() *cli.Command {
	flags := append(SessionFlags(),
		&cli.StringFlag{
			Name:  "message-id",
			Usage: "Message ID (suffixed with the file index when several files are given)",
			Value: "m",
		},
		&cli.IntFlag{
			Name:  "chunk",
			Usage: "Feed each message in chunks of N bytes, as a stream would",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the report",
		},
		FormatFlag,
		NoColorFlag,
	)
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute the actions of one or more model messages",
		ArgsUsage: "FILE... (- for stdin)",
		Flags:     flags,
		Action:    runAction,
	}
}

// message is one transcript input.
type message struct {
	id   string
	text string
}

func runAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("run requires at least one FILE argument (- for stdin)", exitSetupError)
	}
	msgs := make([]message, 0, c.NArg())
	for i, path := range c.Args().Slice() {
		data, err := readInput(path, c.App.Reader)
		if err != nil {
			return setupExit(err)
		}
		msgs = append(msgs, message{id: messageID(c.String("message-id"), i, c.NArg()), text: string(data)})
	}

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

	report, parseErrs, err := runMessages(ctx, e, msgs, c.Int("chunk"))
	if err != nil {
		e.logger.Error("session close failed", map[string]any{"error": err.Error()})
	}

	if !c.Bool("quiet") {
		if err := r.Render(report); err != nil {
			return err
		}
	}
	if path := c.String("report"); path != "" {
		if err := runner.WriteReport(report, path); err != nil {
			return err
		}
	}

	if code := exitCode(report, parseErrs); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// runMessages feeds every message, waits for the action chain to drain and
// closes the session. Parse errors are logged and counted; the remaining
// messages still run. An interrupted wait closes the session early, which
// aborts whatever is still queued.
func runMessages(ctx context.Context, e *env, msgs []message, chunk int) (*runner.Report, int, error) {
	parseErrs := 0
feed:
	for _, m := range msgs {
		err := feedMessage(ctx, e, m, chunk)
		switch {
		case err == nil:
		case stream.IsParseError(err):
			parseErrs++
			e.logger.Error("message rejected", map[string]any{
				"message_id": m.id,
				"error":      err.Error(),
			})
		default:
			e.logger.Warn("feed stopped", map[string]any{
				"message_id": m.id,
				"error":      err.Error(),
			})
			break feed
		}
	}

	if err := e.session.Wait(ctx); err != nil {
		e.logger.Warn("interrupted, aborting queued actions", map[string]any{"error": err.Error()})
	}
	report, err := e.session.Close(context.WithoutCancel(ctx))
	return report, parseErrs, err
}

func feedMessage(ctx context.Context, e *env, m message, chunk int) error {
	for _, end := range chunkEnds(len(m.text), chunk) {
		if _, err := e.session.Feed(ctx, m.id, m.text[:end]); err != nil {
			return err
		}
	}
	return nil
}

func messageID(prefix string, i, n int) string {
	if n == 1 {
		return prefix
	}
	return fmt.Sprintf("%s%d", prefix, i+1)
}

// exitCode maps a finished run to the process exit code. Parse errors win
// over action failures.
func exitCode(report *runner.Report, parseErrs int) int {
	switch {
	case parseErrs > 0:
		return exitParseError
	case report != nil && !report.OK():
		return exitActionFailed
	default:
		return exitSuccess
	}
}
