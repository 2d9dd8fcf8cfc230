//go:build unix

package executor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so Cancel can
// reach every process it forks, not just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup signals every process in pid's group. ESRCH (already reaped) is
// expected and ignored; it just means the group is already gone.
func killGroup(pid int, sig syscall.Signal) {
	_ = unix.Kill(-pid, sig)
}
