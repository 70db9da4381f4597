//go:build !windows

package chrome

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// findPIDListeningOnPort is the 8s fallback-scan path used when a custom
// launcher prints nothing to stdout (spec §4.3.1 step 2): it resolves the
// socket inode for port from /proc/net/tcp, then matches that inode against
// open file descriptors under /proc/<pid>/fd.
func findPIDListeningOnPort(port int) (int, error) {
	inode, err := socketInodeForPort(port)
	if err != nil {
		return 0, err
	}

	procDirs, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("chrome: reading /proc: %w", err)
	}

	target := fmt.Sprintf("socket:[%s]", inode)
	for _, d := range procDirs {
		pid, err := strconv.Atoi(d.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", d.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && link == target {
				return pid, nil
			}
		}
	}
	return 0, fmt.Errorf("chrome: no process found listening on port %d", port)
}

func socketInodeForPort(port int) (string, error) {
	data, err := os.ReadFile("/proc/net/tcp")
	if err != nil {
		return "", fmt.Errorf("chrome: reading /proc/net/tcp: %w", err)
	}
	hexPort := strings.ToUpper(fmt.Sprintf("%04x", port))
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1] // "ADDR:PORT" in hex
		parts := strings.Split(localAddr, ":")
		if len(parts) != 2 || parts[1] != hexPort {
			continue
		}
		return fields[9], nil // inode field
	}
	return "", fmt.Errorf("chrome: no listening socket found for port %d", port)
}
