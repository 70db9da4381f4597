// Package hostinfo provides best-effort host identity used to build
// debug_url/websocket_url host components (spec §6 callback payload).
package hostinfo

import "net"

// OutboundIP discovers the local IP that would be used to reach the
// internet, by dialing (without sending packets) a UDP socket to a public
// address and reading the local address the kernel would pick. Falls back
// to loopback if no route is available; never fatal (mirrors the teacher's
// "best-effort host identity" posture around getHostname()).
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
