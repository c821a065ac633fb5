//go:build windows

package sandbox

import "os/exec"

// configureProcessGroup falls back to killing just the node process itself;
// Windows job objects would be needed to reliably kill a process tree, which
// is out of scope here (mirrors the teacher's exec_windows.go: Windows gets
// a narrower sandbox than Linux/macOS).
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
