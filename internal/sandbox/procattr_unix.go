//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcAttrs puts the child in its own process group and kills the
// whole group on cancellation, so grandchildren cannot outlive the timeout.
func configureProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
