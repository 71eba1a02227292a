//go:build !unix

package sockopt

import "net"

// queryRcvBuf falls back to the IP-datagram maximum on platforms without a
// getsockopt(SO_RCVBUF) syscall wrapper.
func queryRcvBuf(_ *net.UDPConn) (int, error) {
	return 65535, nil
}
