// Package cmd provides CLI commands for the stagehand binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only output.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}

	// ConfigFlag points at a stagehand.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to stagehand.yaml (default: ./stagehand.yaml if present)",
		EnvVars: []string{"STAGEHAND_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared output flags. --tui is always accepted so
// that commands without a TUI can reject it with a clear message.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// SessionFlags returns the flags of commands that execute actions. Every
// flag overrides the matching stagehand.yaml value when set.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "session",
			Usage: "Session ID (default: random UUID)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		// Sandbox
		&cli.StringFlag{
			Name:  "sandbox",
			Usage: "Sandbox mode: local or remote",
		},
		&cli.StringFlag{
			Name:  "root",
			Usage: "Local sandbox working directory",
		},
		&cli.StringFlag{
			Name:  "sandbox-url",
			Usage: "Remote sandbox server URL",
		},
		// Runner
		&cli.BoolFlag{
			Name:  "halt-on-failure",
			Usage: "Abort queued actions after a failed shell command",
		},
		&cli.StringFlag{
			Name:  "build-command",
			Usage: "Command run by build actions",
		},
		&cli.BoolFlag{
			Name:  "no-heuristics",
			Usage: "Disable the untagged-content pre-processor",
		},
		// Journal
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Journal backend: none, fs or s3",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Journal location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "journal-policy",
			Usage: "Journal policy: strict, buffered, streaming or noop",
		},
		&cli.BoolFlag{
			Name:  "record-parse-events",
			Usage: "Journal parser events in addition to action transitions",
		},
		// Alerts
		&cli.StringFlag{
			Name:  "alerts",
			Usage: "Alert sink: log, webhook or redis",
		},
		&cli.StringFlag{
			Name:  "alerts-url",
			Usage: "Webhook or Redis URL",
		},
		// Output
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the JSON run report to this path (- for stderr)",
		},
	}
}

// JournalReadFlags returns the flags locating a journal for read-only commands.
func JournalReadFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Journal backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Journal location (fs: directory, s3: bucket/prefix)",
		},
	}
}
