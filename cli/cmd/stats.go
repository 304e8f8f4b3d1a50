package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/cli/tui"
	"github.com/pithecene-io/stagehand/metrics"
	"github.com/pithecene-io/stagehand/runner"
	"github.com/pithecene-io/stagehand/session"
)

// StatsCommand returns the stats command. It shows the metrics of a run
// report, read from a file or from a journaled session.
func StatsCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), JournalReadFlags()...)
	flags = append(flags, &cli.StringFlag{
		Name:  "session",
		Usage: "Read the report saved with this journaled session",
	})
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show session metrics from a run report",
		ArgsUsage: "[REPORT.json]",
		Flags:     flags,
		Action:    statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	var data []byte
	switch {
	case c.IsSet("session"):
		jc, err := journalConfig(c)
		if err != nil {
			return err
		}
		data, err = readSidecar(c.Context, jc, c.String("session"), session.ReportFile)
		if err != nil {
			return cli.Exit(fmt.Sprintf("report unavailable: %v", err), 1)
		}
	case c.NArg() == 1:
		data, err = readInput(c.Args().First(), c.App.Reader)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
	default:
		return cli.Exit("stats requires a REPORT.json argument or --session", 1)
	}

	snap, err := reportMetrics(data)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewMetrics, snap)
	}
	return r.Render(snap)
}

func reportMetrics(data []byte) (*metrics.Snapshot, error) {
	var report runner.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	if report.Metrics == nil {
		return nil, fmt.Errorf("report of session %q carries no metrics", report.SessionID)
	}
	return report.Metrics, nil
}
