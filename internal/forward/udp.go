package forward

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/share121/port-mapping/internal/rule"
)

// UDPForwarder owns one server socket and session map per compiled UDP
// rule. It is the deepest part of the system: it must emulate connection
// state on top of datagrams, demultiplex server-side receives to the right
// per-client worker, manage upstream sockets, and reclaim idle sessions
// without dropping or reordering a given client's traffic.
type UDPForwarder struct {
	r           rule.CompiledRule
	idleTimeout time.Duration
	queueSize   int
	bufSize     int
	logger      *slog.Logger

	conn     *net.UDPConn
	sessions *sessionMap
	wg       sync.WaitGroup
}

// NewUDPForwarder creates a forwarder for one compiled UDP rule. bufSize is
// the OS's default UDP receive-buffer size, queried once at startup by the
// supervisor.
func NewUDPForwarder(r rule.CompiledRule, idleTimeout time.Duration, queueSize, bufSize int, logger *slog.Logger) *UDPForwarder {
	return &UDPForwarder{
		r:           r,
		idleTimeout: idleTimeout,
		queueSize:   queueSize,
		bufSize:     bufSize,
		logger:      logger.With("proto", "udp", "rule", r.Label()),
		sessions:    newSessionMap(),
	}
}

// Run binds the server socket and runs the receive-side loop until ctx is
// cancelled. A bind failure is rule-level fatal, exactly as for TCP.
func (f *UDPForwarder) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", f.r.ListenAddr())
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	f.conn = conn
	f.logger.Info("udp forwarder started")

	go func() {
		<-ctx.Done()
		f.conn.Close()
	}()

	buf := make([]byte, f.bufSize)
	for {
		// The kernel's returned length is authoritative; this buffer is
		// reused across iterations without ever being reset, so only buf[:n]
		// is ever copied into a session's queue.
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				f.wg.Wait()
				f.logger.Info("udp forwarder stopped")
				return nil
			default:
				f.logger.Warn("recv failed", "error", err)
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		key := clientAddr.String()
		sess, created := f.sessions.getOrCreate(key, f.queueSize)
		if !trySend(sess.ingress, payload) {
			f.logger.Warn("ingress queue full or session gone, dropping datagram", "client", key)
		}
		if created {
			f.wg.Add(1)
			go f.runSession(ctx, key, clientAddr, sess)
		}
	}
}

// runSession is the per-client event loop. It owns the session's upstream
// socket and is the only goroutine that sends on it, which is what
// guarantees per-client FIFO delivery: both arms below perform their
// forwarding send inline, never by spawning a further goroutine per
// datagram, since that would let sends to the same destination race and
// arrive out of order.
func (f *UDPForwarder) runSession(ctx context.Context, key string, clientAddr *net.UDPAddr, sess *clientSession) {
	defer f.wg.Done()

	sessionID := uuid.NewString()
	log := f.logger.With("client", key, "session_id", sessionID)

	upstreamAddr, err := net.ResolveUDPAddr("udp", f.r.UpstreamAddr())
	if err != nil {
		f.sessions.remove(key)
		log.Warn("resolve upstream failed", "error", err)
		return
	}
	upstream, err := net.DialUDP("udp", nil, upstreamAddr)
	if err != nil {
		// Removing the map entry lets the client's next datagram create a
		// fresh session and worker. Datagrams already queued on this
		// session's ingress channel are dropped.
		f.sessions.remove(key)
		log.Warn("dial upstream failed", "error", err)
		return
	}

	fromUpstream := make(chan []byte, f.queueSize)
	readerDone := make(chan struct{})
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		readFromUpstream(upstream, f.bufSize, fromUpstream, readerDone)
	}()

	timer := time.NewTimer(f.idleTimeout)
	defer timer.Stop()

	teardown := func(reason string) {
		f.sessions.remove(key)
		close(sess.ingress)
		upstream.Close()
		close(readerDone)
		readerWG.Wait()
		log.Info("session closed", "reason", reason)
	}

	for {
		select {
		case <-ctx.Done():
			teardown("shutdown")
			return

		case payload, ok := <-sess.ingress:
			if !ok {
				teardown("ingress closed")
				return
			}
			if _, err := upstream.Write(payload); err != nil {
				log.Warn("send to upstream failed", "error", err)
				continue
			}
			resetTimer(timer, f.idleTimeout)

		case payload, ok := <-fromUpstream:
			if !ok {
				teardown("upstream closed")
				return
			}
			if _, err := f.conn.WriteToUDP(payload, clientAddr); err != nil {
				log.Warn("send to client failed", "error", err)
				continue
			}
			resetTimer(timer, f.idleTimeout)

		case <-timer.C:
			teardown("idle_timeout")
			return
		}
	}
}

// readFromUpstream feeds datagrams from the session's upstream socket into
// out until the socket is closed (by teardown) or done is closed.
func readFromUpstream(upstream *net.UDPConn, bufSize int, out chan<- []byte, done <-chan struct{}) {
	buf := make([]byte, bufSize)
	for {
		n, err := upstream.Read(buf)
		if err != nil {
			// Closed by teardown, or a genuine read error either way ends
			// this reader; the worker's select loop handles idle/shutdown.
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case out <- payload:
		case <-done:
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
