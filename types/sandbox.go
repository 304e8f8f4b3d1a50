package types

// CommandResult is the outcome of a sandbox command.
type CommandResult struct {
	ExitCode int    `json:"exit_code" msgpack:"exit_code"`
	Stdout   string `json:"stdout" msgpack:"stdout"`
	Stderr   string `json:"stderr" msgpack:"stderr"`
}

// Output returns stdout followed by stderr.
func (r *CommandResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// DirEntry is one entry returned by a sandbox directory listing.
type DirEntry struct {
	Name  string `json:"name" msgpack:"name"`
	IsDir bool   `json:"is_dir" msgpack:"is_dir"`
	Size  int64  `json:"size" msgpack:"size"`
}
