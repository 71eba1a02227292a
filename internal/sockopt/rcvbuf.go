// Package sockopt queries the OS's default UDP receive-buffer size, used by
// the UDP forwarder to size its per-datagram read buffers. The query opens
// a throwaway UDP socket and reads back SO_RCVBUF without ever calling
// SetsockoptInt — the kernel's default is whatever a fresh socket already
// has.
package sockopt

import "net"

// DefaultUDPReceiveBufferSize returns the kernel's default SO_RCVBUF value
// for a freshly created UDP socket. Substituting 65535 (the max IP datagram
// size) loses no correctness; that is exactly the fallback used when the
// platform-specific query in rcvbuf_unix.go is unavailable.
func DefaultUDPReceiveBufferSize() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return queryRcvBuf(conn)
}
