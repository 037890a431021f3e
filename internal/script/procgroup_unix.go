//go:build unix

package script

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup starts the script in its own process group and makes
// context cancellation SIGKILL the whole group, so processes the script
// forked die with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
