//go:build linux

package runner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolate starts the command in its own process group and makes context
// cancellation kill the whole group, so helpers spawned by scripts do not
// outlive the deadline.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
