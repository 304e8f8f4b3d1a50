// Package main provides the stagehand CLI entrypoint.
//
// Usage:
//
//	stagehand <command> [subcommand] [options]
//
// Exit codes of `run` and `watch`:
//   - 0: every action completed
//   - 1: at least one action failed, was aborted or never finished
//   - 2: a message was rejected by the parser
//   - 3: setup failure (config, sandbox, journal, alerts)
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/cmd"
	"github.com/pithecene-io/stagehand/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "stagehand",
		Usage:          "Parse model messages and execute their actions in a sandbox",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.WatchCommand(),
			cmd.ParseCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.ListCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code := reportExit(os.Stderr, err)
	os.Exit(code)
}

// reportExit prints the message of err, if any, and returns its exit code.
// Unexpected errors exit with 1.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
