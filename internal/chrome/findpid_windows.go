//go:build windows

package chrome

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// findPIDListeningOnPort is the 8s fallback-scan path used when a custom
// launcher prints nothing to stdout (spec §4.3.1 step 2). On Windows this
// shells out to the Get-NetTCPConnection PowerShell cmdlet, the standard
// way to resolve a listening port's owning PID without cgo.
func findPIDListeningOnPort(port int) (int, error) {
	script := fmt.Sprintf(
		"(Get-NetTCPConnection -LocalPort %d -State Listen | Select-Object -First 1 -ExpandProperty OwningProcess)",
		port)
	out, err := exec.Command("powershell", "-NoProfile", "-Command", script).Output()
	if err != nil {
		return 0, fmt.Errorf("chrome: Get-NetTCPConnection for port %d: %w", port, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("chrome: no process found listening on port %d", port)
	}
	return pid, nil
}
