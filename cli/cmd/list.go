package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/journal"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List journaled entities",
		Subcommands: []*cli.Command{
			listSessionsCommand(),
		},
	}
}

func listSessionsCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), JournalReadFlags()...)
	flags = append(flags, &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of sessions to return, newest kept (0 = no limit)",
	})
	return &cli.Command{
		Name:   "sessions",
		Usage:  "List sessions in the journal",
		Flags:  flags,
		Action: listSessionsAction,
	}
}

// SessionRow is one line of list sessions.
type SessionRow struct {
	SessionID string `json:"session_id" yaml:"session_id"`
}

func listSessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list sessions", 1)
	}
	jc, err := journalConfig(c)
	if err != nil {
		return err
	}
	ds, err := openDataset(c.Context, jc)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open journal: %v", err), 1)
	}
	ids, err := journal.Sessions(c.Context, ds)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	limit := c.Int("limit")
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	if limit == 0 && len(ids) > listWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: %d sessions found, consider --limit\n", len(ids))
	}

	rows := make([]SessionRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, SessionRow{SessionID: id})
	}
	return r.Render(rows)
}
