package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/cli/tui"
	"github.com/pithecene-io/stagehand/journal"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/session"
	"github.com/pithecene-io/stagehand/types"
)

// InspectCommand returns the inspect command with subcommands. Inspect
// reads a session back from its journal.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a journaled session",
		Subcommands: []*cli.Command{
			inspectSessionCommand(),
			inspectTranscriptCommand(),
		},
	}
}

func inspectSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Replay the action states of a session",
		ArgsUsage: "<session-id>",
		Flags:     append(ReadOnlyFlags(), JournalReadFlags()...),
		Action:    inspectSessionAction,
	}
}

func inspectSessionAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	sessionID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	jc, err := journalConfig(c)
	if err != nil {
		return err
	}
	records, err := sessionRecords(c.Context, jc, sessionID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	report := replayReport(sessionID, records)

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReport, report)
	}
	return r.Render(report)
}

// replayReport rebuilds a run report from journal records. Payloads are not
// journaled, so actions carry only their type.
func replayReport(sessionID string, records []types.JournalRecord) *runner.Report {
	report := runner.BuildReport(journal.ReplayStates(records))
	report.SessionID = sessionID
	for _, rec := range records {
		if rec.RunnerID != "" {
			report.RunnerID = rec.RunnerID
		}
	}
	return report
}

func inspectTranscriptCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcript",
		Usage:     "Print the transcript saved with a session",
		ArgsUsage: "<session-id>",
		Flags:     JournalReadFlags(),
		Action:    inspectTranscriptAction,
	}
}

func inspectTranscriptAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	jc, err := journalConfig(c)
	if err != nil {
		return err
	}
	data, err := readSidecar(c.Context, jc, c.Args().First(), session.TranscriptFile)
	if err != nil {
		return cli.Exit(fmt.Sprintf("transcript unavailable: %v", err), 1)
	}
	_, err = c.App.Writer.Write(data)
	return err
}
