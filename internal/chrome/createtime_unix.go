//go:build !windows

package chrome

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// processCreateTime reads the process start time from /proc/<pid>/stat on
// Linux, used later to detect PID reuse (spec §3, §4.3.3). On non-Linux
// POSIX systems without /proc, it degrades to the current time (best
// effort — PID-reuse detection is a Windows-host requirement per spec §1;
// this path exists only so the codebase builds and tests on a dev machine).
func processCreateTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Now(), nil
	}

	// Field 22 (starttime, in clock ticks since boot) follows the
	// parenthesized comm field, which may itself contain spaces.
	close := strings.LastIndexByte(string(data), ')')
	if close < 0 {
		return time.Time{}, fmt.Errorf("chrome: unparseable /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data)[close+2:])
	const startTimeFieldIndex = 19 // 0-based, counting from field 3 (state)
	if len(fields) <= startTimeFieldIndex {
		return time.Time{}, fmt.Errorf("chrome: /proc/%d/stat missing starttime field", pid)
	}
	ticks, err := strconv.ParseInt(fields[startTimeFieldIndex], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("chrome: parsing starttime for %d: %w", pid, err)
	}

	bootTime, err := systemBootTime()
	if err != nil {
		return time.Now(), nil
	}
	clockTicksPerSec := int64(100) // USER_HZ, standard on Linux
	return bootTime.Add(time.Duration(ticks) * time.Second / time.Duration(clockTicksPerSec)), nil
}

func systemBootTime() (time.Time, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			secs, err := strconv.ParseInt(strings.TrimSpace(line[len("btime "):]), 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(secs, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("chrome: btime not found in /proc/stat")
}
