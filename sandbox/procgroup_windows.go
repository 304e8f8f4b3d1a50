//go:build windows

package sandbox

import "os/exec"

// setupProcessGroup is a no-op on Windows, which has no Unix process
// groups. Cancellation kills the shell process only.
func setupProcessGroup(_ *exec.Cmd) {}
