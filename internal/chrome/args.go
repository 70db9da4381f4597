package chrome

import (
	"strconv"
	"strings"

	"chromeworker/internal/session"
)

// denylistPrefixes rejects request-supplied chrome_args that would change
// the debugging interface, user-data dir, or allowed-origins boundary
// (spec §4.3.1, Open Question #3 in SPEC_FULL.md §9). Denied flags are
// dropped with a warning; they never fail the launch.
var denylistPrefixes = []string{
	"--remote-debugging-port",
	"--remote-debugging-address",
	"--user-data-dir",
	"--remote-allow-origins",
}

// baseArgs is the fixed safe base every launch starts from.
func baseArgs(port int, profileDir string) []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--user-data-dir=" + profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--proxy-bypass-list=<-loopback>",
	}
}

// proxyArgs builds the --proxy-server flag from a request's proxy_config
// (spec §3, §6). Chrome has no command-line flag for inline proxy
// credentials; an authenticated proxy's username/password are not
// launch-time arguments and are left for the caller to handle via the
// proxy's own auth challenge.
func proxyArgs(p *session.ProxyConfig) []string {
	if p == nil || p.Server == "" {
		return nil
	}
	return []string{"--proxy-server=" + p.Server}
}

// filterArgs drops any requested flag matching the denylist, returning the
// surviving flags and the ones that were dropped (for the warning log).
func filterArgs(requested []string) (allowed, dropped []string) {
	for _, a := range requested {
		flag := a
		if idx := strings.Index(a, "="); idx >= 0 {
			flag = a[:idx]
		}
		denied := false
		for _, p := range denylistPrefixes {
			if strings.EqualFold(flag, p) {
				denied = true
				break
			}
		}
		if denied {
			dropped = append(dropped, a)
		} else {
			allowed = append(allowed, a)
		}
	}
	return allowed, dropped
}
