package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/stagehand/heuristic"
	"github.com/pithecene-io/stagehand/ipc"
	"github.com/pithecene-io/stagehand/log"
	"github.com/pithecene-io/stagehand/stream"
	"github.com/pithecene-io/stagehand/types"
)

// ParseCommand returns the parse command. It runs the parser over a
// transcript without executing anything.
func ParseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse a model message and print its display text or parser events",
		ArgsUsage: "FILE|-",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "message-id",
				Usage: "Message ID used for artifact and action IDs",
				Value: "m",
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Write parser events as msgpack frames instead of display text",
			},
			&cli.BoolFlag{
				Name:  "no-heuristics",
				Usage: "Disable the untagged-content pre-processor",
			},
			&cli.IntFlag{
				Name:  "chunk",
				Usage: "Feed the message in chunks of N bytes, as a stream would",
			},
		},
		Action: parseAction,
	}
}

func parseAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("parse requires exactly one FILE argument (- for stdin)", exitSetupError)
	}
	data, err := readInput(c.Args().First(), c.App.Reader)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	out := c.App.Writer
	display, err := parseText(string(data), parseOptions{
		messageID:         c.String("message-id"),
		chunk:             c.Int("chunk"),
		disableHeuristics: c.Bool("no-heuristics"),
		events:            c.Bool("events"),
		out:               out,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("parse error: %v", err), exitParseError)
	}
	if !c.Bool("events") {
		fmt.Fprint(out, display)
	}
	return nil
}

type parseOptions struct {
	messageID         string
	chunk             int
	disableHeuristics bool
	events            bool
	out               io.Writer
}

// parseText feeds text to a fresh parser, in chunks when requested, and
// returns the final display text. With events set every parser event is
// written to out as an ipc frame.
func parseText(text string, opts parseOptions) (string, error) {
	var pre stream.Preprocessor
	if !opts.disableHeuristics {
		pre = heuristic.New(heuristic.Options{Logger: log.NewNop()})
	}

	var frameErr error
	var callbacks stream.Callbacks
	if opts.events {
		enc := ipc.NewFrameEncoder(opts.out)
		callbacks.OnEvent = func(ev types.ParserEvent) {
			if frameErr == nil {
				frameErr = enc.Encode(ipc.NewEventFrame(ev))
			}
		}
	}
	parser := stream.NewParserState(stream.Options{
		Callbacks:    callbacks,
		Preprocessor: pre,
		Logger:       log.NewNop(),
	})

	var display string
	var err error
	for _, end := range chunkEnds(len(text), opts.chunk) {
		if display, err = parser.Parse(opts.messageID, text[:end]); err != nil {
			return "", err
		}
	}
	if frameErr != nil {
		return "", fmt.Errorf("write event frame: %w", frameErr)
	}
	return display, nil
}

// chunkEnds returns the cumulative prefix lengths fed to the parser. A
// non-positive size feeds the whole text at once.
func chunkEnds(n, size int) []int {
	if size <= 0 || size >= n {
		return []int{n}
	}
	var ends []int
	for end := size; end < n; end += size {
		ends = append(ends, end)
	}
	return append(ends, n)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, nil
}
