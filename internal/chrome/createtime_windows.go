//go:build windows

package chrome

import (
	"fmt"
	"syscall"
	"time"
)

// processCreateTime reads the process creation timestamp via the Windows
// GetProcessTimes API, used later to detect PID reuse (spec §3, §4.3.3).
func processCreateTime(pid int) (time.Time, error) {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return time.Time{}, fmt.Errorf("chrome: OpenProcess(%d): %w", pid, err)
	}
	defer syscall.CloseHandle(h)

	var creation, exit, kernel, user syscall.Filetime
	if err := syscall.GetProcessTimes(h, &creation, &exit, &kernel, &user); err != nil {
		return time.Time{}, fmt.Errorf("chrome: GetProcessTimes(%d): %w", pid, err)
	}
	return time.Unix(0, creation.Nanoseconds()), nil
}
