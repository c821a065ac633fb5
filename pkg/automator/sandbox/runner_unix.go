//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup sets the child in its own process group and arranges
// for context cancellation (timeout) to SIGKILL the whole group, not just
// the node process — a script can itself spawn children, and a bare
// cmd.Process.Kill() would leave those orphaned. Adapted from the teacher's
// DirectExecutor.buildCommand.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
