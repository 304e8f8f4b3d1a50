//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup starts the shell in its own process group and kills
// the whole group on context cancellation, so servers and workers spawned
// by a command do not outlive it.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}
