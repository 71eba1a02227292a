package forward

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/share121/port-mapping/internal/logging"
	"github.com/share121/port-mapping/internal/rule"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// TestTCPForwarder_EchoRoundTrip checks that a client sends bytes and
// receives the same bytes back through the forwarder.
func TestTCPForwarder_EchoRoundTrip(t *testing.T) {
	upstream := startEchoServer(t)
	host, port, err := net.SplitHostPort(upstream)
	require.NoError(t, err)

	listenLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, listenPort, err := net.SplitHostPort(listenLn.Addr().String())
	require.NoError(t, err)
	listenLn.Close()

	lp, err := strconv.Atoi(listenPort)
	require.NoError(t, err)
	up, err := strconv.Atoi(port)
	require.NoError(t, err)

	cr := rule.CompiledRule{Protocol: rule.ProtocolTCP, ListenPort: uint16(lp), UpstreamHost: host, UpstreamPort: uint16(up)}
	f := NewTCPForwarder(cr, time.Second, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialAddr := net.JoinHostPort("127.0.0.1", listenPort)

	runErr := make(chan error, 1)
	go func() { runErr <- f.Run(ctx) }()
	waitForListener(t, dialAddr)

	conn, err := net.Dial("tcp", dialAddr)
	require.NoError(t, err)
	defer conn.Close()

	msg := []byte("hello forwarder")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
}

// TestTCPForwarder_UpstreamDown checks that the listener stays open and
// accepts further connections even when a connection's upstream dial fails.
func TestTCPForwarder_UpstreamDown(t *testing.T) {
	cr := rule.CompiledRule{Protocol: rule.ProtocolTCP, ListenPort: 0, UpstreamHost: "127.0.0.1", UpstreamPort: 1}
	listenLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, listenPort, err := net.SplitHostPort(listenLn.Addr().String())
	require.NoError(t, err)
	listenLn.Close()
	lp, err := strconv.Atoi(listenPort)
	require.NoError(t, err)
	cr.ListenPort = uint16(lp)

	f := NewTCPForwarder(cr, 200*time.Millisecond, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	dialAddr := net.JoinHostPort("127.0.0.1", listenPort)
	waitForListener(t, dialAddr)

	conn, err := net.Dial("tcp", dialAddr)
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err) // upstream dial failed, connection dropped

	// listener must still accept a subsequent connection
	conn2, err := net.Dial("tcp", dialAddr)
	require.NoError(t, err)
	conn2.Close()
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener at %s never came up", addr)
}
