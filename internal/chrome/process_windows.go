//go:build windows

package chrome

import (
	"os/exec"
	"strconv"
	"syscall"
)

// setProcessGroup is a no-op on Windows; Chrome's child tree is torn down
// via taskkill /T instead of a POSIX process group (see killTree).
func setProcessGroup(cmd *exec.Cmd) {}

// killTree shells out to taskkill, the only correct way to tear down a
// Windows process tree without cgo (spec §4.3.3, §9 "shell-style helpers
// treated as external commands").
func killTree(pid int) error {
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	return cmd.Run()
}

// isProcessAlive reports whether pid refers to a live process.
func isProcessAlive(pid int) bool {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(h)

	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}
