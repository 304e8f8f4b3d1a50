package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a stagehand.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Session string        `yaml:"session"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Runner  RunnerConfig  `yaml:"runner"`
	Journal JournalConfig `yaml:"journal"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Fetch   FetchConfig   `yaml:"fetch"`
}

// SandboxConfig selects and configures the sandbox backend.
type SandboxConfig struct {
	Mode    string            `yaml:"mode"`
	Root    string            `yaml:"root"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RunnerConfig holds action runner defaults.
type RunnerConfig struct {
	ShellTimeout       Duration `yaml:"shell_timeout"`
	FileTimeout        Duration `yaml:"file_timeout"`
	InstallTimeout     Duration `yaml:"install_timeout"`
	InstallPoll        Duration `yaml:"install_poll"`
	InstallQuiet       Duration `yaml:"install_quiet"`
	StartGrace         Duration `yaml:"start_grace"`
	BuildCommand       string   `yaml:"build_command"`
	OutputDirs         []string `yaml:"output_dirs"`
	HaltOnShellFailure bool     `yaml:"halt_on_shell_failure"`
}

// JournalConfig holds action journal defaults.
type JournalConfig struct {
	Backend           string   `yaml:"backend"`
	Dataset           string   `yaml:"dataset"`
	Path              string   `yaml:"path"`
	Region            string   `yaml:"region"`
	Endpoint          string   `yaml:"endpoint"`
	S3PathStyle       bool     `yaml:"s3_path_style"`
	Policy            string   `yaml:"policy"`
	RecordParseEvents bool     `yaml:"record_parse_events"`
	BufferRecords     int      `yaml:"buffer_records"`
	FlushCount        int      `yaml:"flush_count"`
	FlushInterval     Duration `yaml:"flush_interval"`
}

// AlertsConfig holds alert publisher defaults.
type AlertsConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	PerKind bool              `yaml:"per_kind,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// FetchConfig configures remote file sources.
type FetchConfig struct {
	S3Region    string   `yaml:"s3_region"`
	S3Endpoint  string   `yaml:"s3_endpoint"`
	S3PathStyle bool     `yaml:"s3_path_style"`
	Timeout     Duration `yaml:"timeout,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// Validate checks enumerated values. Empty values are allowed everywhere.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		if value == "" {
			return
		}
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %v)", field, value, allowed))
	}
	check("sandbox.mode", c.Sandbox.Mode, "local", "remote")
	check("journal.backend", c.Journal.Backend, "none", "fs", "s3")
	check("journal.policy", c.Journal.Policy, "strict", "buffered", "streaming", "noop")
	check("alerts.type", c.Alerts.Type, "log", "webhook", "redis")

	if c.Sandbox.Mode == "remote" && c.Sandbox.URL == "" {
		errs = append(errs, errors.New("sandbox.url is required for remote mode"))
	}
	if (c.Alerts.Type == "webhook" || c.Alerts.Type == "redis") && c.Alerts.URL == "" {
		errs = append(errs, fmt.Errorf("alerts.url is required for %s alerts", c.Alerts.Type))
	}
	if c.Journal.BufferRecords < 0 || c.Journal.FlushCount < 0 {
		errs = append(errs, errors.New("journal buffer sizes must not be negative"))
	}
	return errors.Join(errs...)
}
