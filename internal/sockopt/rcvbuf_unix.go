//go:build unix

package sockopt

import (
	"net"

	"golang.org/x/sys/unix"
)

// queryRcvBuf reads SO_RCVBUF off the connection's underlying file
// descriptor via RawConn.Control, the same getsockopt/setsockopt-through-
// RawConn technique jroosing-HydraDNS's udp_server.go uses for
// unix.SetsockoptInt(SO_REUSEPORT).
func queryRcvBuf(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var size int
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		size, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if sockErr != nil {
		return 0, sockErr
	}
	return size, nil
}
