//go:build unix

package client

import (
	"os/exec"
	"syscall"
)

// detach puts cmd in a new session so it isn't killed by the terminal's
// controlling process group once the launching client exits.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
