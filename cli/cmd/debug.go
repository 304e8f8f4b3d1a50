package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/cli/render"
	"github.com/pithecene-io/stagehand/heuristic"
	"github.com/pithecene-io/stagehand/ipc"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/metrics"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are read-only diagnostic tools.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (frames, heuristics)",
		Subcommands: []*cli.Command{
			debugFramesCommand(),
			debugHeuristicsCommand(),
		},
	}
}

func debugFramesCommand() *cli.Command {
	return &cli.Command{
		Name:      "frames",
		Usage:     "Decode a stream of ipc frames (e.g. from parse --events)",
		ArgsUsage: "FILE|-",
		Flags:     ReadOnlyFlags(),
		Action:    debugFramesAction,
	}
}

// FrameRow summarizes one decoded frame.
type FrameRow struct {
	Index   int    `json:"index" yaml:"index"`
	Type    string `json:"type" yaml:"type"`
	Version string `json:"version" yaml:"version"`
	Kind    string `json:"kind,omitempty" yaml:"kind,omitempty"`
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func debugFramesAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("frames requires exactly one FILE argument (- for stdin)", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for debug commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	data, err := readInput(c.Args().First(), c.App.Reader)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rows, err := decodeFrames(bytes.NewReader(data))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(rows)
}

func decodeFrames(r io.Reader) ([]FrameRow, error) {
	dec := ipc.NewFrameDecoder(r)
	var rows []FrameRow
	for i := 0; ; i++ {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("frame %d: %w", i, err)
		}
		frame, err := ipc.DecodeFrame(payload)
		if err != nil {
			return rows, fmt.Errorf("frame %d: %w", i, err)
		}
		rows = append(rows, frameRow(i, frame))
	}
}

func frameRow(i int, frame any) FrameRow {
	row := FrameRow{Index: i}
	switch f := frame.(type) {
	case *ipc.EventFrame:
		row.Type, row.Version, row.Kind = f.Type, f.Version, string(f.Event.Kind)
		switch {
		case f.Event.Action != nil:
			row.ID = f.Event.Action.ActionID
			row.Detail = f.Event.Action.Action.Describe()
		case f.Event.Artifact != nil:
			row.ID = f.Event.Artifact.Artifact.ID
			row.Detail = f.Event.Artifact.Artifact.Title
		}
	case *ipc.Request:
		row.Type, row.Version = f.Type, f.Version
		row.Detail = f.Command + f.Path
	case *ipc.Response:
		row.Type, row.Version = f.Type, f.Version
		row.Detail = f.Error
	}
	return row
}

func debugHeuristicsCommand() *cli.Command {
	return &cli.Command{
		Name:      "heuristics",
		Usage:     "Show what the pre-processor makes of an untagged message",
		ArgsUsage: "FILE|-",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "message-id",
				Usage: "Message ID used for generated artifact IDs",
				Value: "m",
			},
		),
		Action: debugHeuristicsAction,
	}
}

// HeuristicsResponse is the result of debug heuristics.
type HeuristicsResponse struct {
	Rewrites map[string]int64 `json:"rewrites" yaml:"rewrites"`
	Output   string           `json:"output" yaml:"output"`
}

func debugHeuristicsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("heuristics requires exactly one FILE argument (- for stdin)", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for debug commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	data, err := readInput(c.Args().First(), c.App.Reader)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	resp := preprocess(c.String("message-id"), string(data))

	if r.Format() == render.FormatTable {
		for _, name := range slices.Sorted(maps.Keys(resp.Rewrites)) {
			fmt.Fprintf(c.App.Writer, "# %s: %d\n", name, resp.Rewrites[name])
		}
		_, err := fmt.Fprint(c.App.Writer, resp.Output)
		return err
	}
	return r.Render(resp)
}

func preprocess(msgID, text string) HeuristicsResponse {
	collector := metrics.NewCollector("", "", "", "")
	pre := heuristic.New(heuristic.Options{Logger: log.NewNop(), Metrics: collector})
	out := pre.Process(msgID, text)
	rewrites := collector.Snapshot().Rewrites
	if rewrites == nil {
		rewrites = map[string]int64{}
	}
	return HeuristicsResponse{Rewrites: rewrites, Output: out}
}
