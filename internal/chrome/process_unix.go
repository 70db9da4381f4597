//go:build !windows

package chrome

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd in its own process group so the whole tree can
// be signal-killed at once on POSIX.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree signal-kills the process group rooted at pid.
func killTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// isProcessAlive reports whether pid refers to a live process, via the
// conventional signal-0 probe.
func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
