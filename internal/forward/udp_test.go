package forward

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/share121/port-mapping/internal/logging"
	"github.com/share121/port-mapping/internal/rule"
)

// startUDPEchoServer returns bytes it receives, unmodified, to the sender.
func startUDPEchoServer(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			conn.WriteToUDP(payload, addr)
		}
	}()
	return conn.LocalAddr().String()
}

func newTestUDPForwarder(t *testing.T, upstream string, idleTimeout time.Duration) (f *UDPForwarder, dialAddr string) {
	t.Helper()
	host, port, err := net.SplitHostPort(upstream)
	require.NoError(t, err)

	listenConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	listenAddr := listenConn.LocalAddr().String()
	listenConn.Close()
	_, listenPort, err := net.SplitHostPort(listenAddr)
	require.NoError(t, err)

	cr := rule.CompiledRule{
		Protocol:     rule.ProtocolUDP,
		ListenPort:   mustPort(t, listenPort),
		UpstreamHost: host,
		UpstreamPort: mustPort(t, port),
	}
	f = NewUDPForwarder(cr, idleTimeout, 16, 65535, logging.Discard())
	return f, net.JoinHostPort("127.0.0.1", listenPort)
}

func mustPort(t *testing.T, s string) uint16 {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return uint16(n)
}

func waitForUDPListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("udp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("udp listener at %s never came up", addr)
}

// TestUDPForwarder_EchoRoundTrip checks that datagrams sent in order from
// one client come back in the same order.
func TestUDPForwarder_EchoRoundTrip(t *testing.T) {
	upstream := startUDPEchoServer(t)
	f, dialAddr := newTestUDPForwarder(t, upstream, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	waitForUDPListener(t, dialAddr)

	conn, err := net.Dial("udp", dialAddr)
	require.NoError(t, err)
	defer conn.Close()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range msgs {
		_, err := conn.Write(m)
		require.NoError(t, err)
	}

	buf := make([]byte, 64)
	for _, want := range msgs {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, want, buf[:n])
	}
}

// TestUDPForwarder_SessionIsolation checks that two distinct clients get
// distinct sessions and never see each other's echoes.
func TestUDPForwarder_SessionIsolation(t *testing.T) {
	upstream := startUDPEchoServer(t)
	f, dialAddr := newTestUDPForwarder(t, upstream, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	waitForUDPListener(t, dialAddr)

	conn1, err := net.Dial("udp", dialAddr)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := net.Dial("udp", dialAddr)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn1.Write([]byte("from-one"))
	require.NoError(t, err)
	_, err = conn2.Write([]byte("from-two"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn1.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "from-one", string(buf[:n]))

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = conn2.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "from-two", string(buf[:n]))

	require.Eventually(t, func() bool {
		return f.sessions.len() == 2
	}, time.Second, 10*time.Millisecond)
}

// TestUDPForwarder_IdleReclamation checks that a session with no traffic
// for longer than the idle timeout is torn down and its map entry removed.
func TestUDPForwarder_IdleReclamation(t *testing.T) {
	upstream := startUDPEchoServer(t)
	f, dialAddr := newTestUDPForwarder(t, upstream, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	waitForUDPListener(t, dialAddr)

	conn, err := net.Dial("udp", dialAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.sessions.len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestUDPForwarder_MultiResponse checks that multiple datagrams emitted by
// the upstream in response to a single request are all delivered back to
// the originating client.
func TestUDPForwarder_MultiResponse(t *testing.T) {
	upstreamConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer upstreamConn.Close()

	go func() {
		buf := make([]byte, 64)
		n, addr, err := upstreamConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_ = n
		for i := 0; i < 3; i++ {
			upstreamConn.WriteToUDP([]byte{byte('a' + i)}, addr)
		}
	}()

	f, dialAddr := newTestUDPForwarder(t, upstreamConn.LocalAddr().String(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	waitForUDPListener(t, dialAddr)

	conn, err := net.Dial("udp", dialAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("trigger"))
	require.NoError(t, err)

	got := make(map[byte]bool)
	buf := make([]byte, 64)
	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		got[buf[0]] = true
	}
	require.Len(t, got, 3)
}

// TestUDPForwarder_ConcurrentFirstDatagrams checks that N distinct clients
// sending their first datagram concurrently produce exactly N sessions,
// with no duplicates created under the race.
func TestUDPForwarder_ConcurrentFirstDatagrams(t *testing.T) {
	upstream := startUDPEchoServer(t)
	f, dialAddr := newTestUDPForwarder(t, upstream, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)
	waitForUDPListener(t, dialAddr)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			conn, err := net.Dial("udp", dialAddr)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.Write([]byte("hi"))
			buf := make([]byte, 8)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			conn.Read(buf)
		}()
	}
	wg.Wait()

	require.Equal(t, n, f.sessions.len())
}
