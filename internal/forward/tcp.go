package forward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/share121/port-mapping/internal/rule"
)

// TCPForwarder binds one listener per compiled TCP rule, accepts downstream
// connections, and splices each to a freshly dialed upstream connection.
// One instance exists per compiled rule.
type TCPForwarder struct {
	r           rule.CompiledRule
	dialTimeout time.Duration
	logger      *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPForwarder creates a forwarder for one compiled TCP rule.
func NewTCPForwarder(r rule.CompiledRule, dialTimeout time.Duration, logger *slog.Logger) *TCPForwarder {
	return &TCPForwarder{
		r:           r,
		dialTimeout: dialTimeout,
		logger:      logger.With("proto", "tcp", "rule", r.Label()),
	}
}

// Run binds the listener and serves until ctx is cancelled or the listener
// fails to bind. A bind failure is rule-level fatal and is returned to the
// caller; the supervisor logs it and the other rules are unaffected. Accept
// errors, by contrast, are per-attempt and never cause Run to return early.
func (f *TCPForwarder) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", f.r.ListenAddr())
	if err != nil {
		return err
	}
	f.listener = listener
	f.logger.Info("tcp forwarder started")

	go func() {
		<-ctx.Done()
		f.listener.Close()
	}()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				f.wg.Wait()
				f.logger.Info("tcp forwarder stopped")
				return nil
			default:
				f.logger.Warn("accept failed", "error", err)
				continue
			}
		}

		f.wg.Add(1)
		go f.handleConn(ctx, conn)
	}
}

func (f *TCPForwarder) handleConn(ctx context.Context, downstream net.Conn) {
	defer f.wg.Done()
	defer downstream.Close()

	connID := uuid.NewString()
	log := f.logger.With("conn_id", connID)

	upstream, err := net.DialTimeout("tcp", f.r.UpstreamAddr(), f.dialTimeout)
	if err != nil {
		log.Warn("dial upstream failed", "error", err)
		return
	}
	defer upstream.Close()

	counter := &trafficCounter{}
	err = splice(ctx, downstream, upstream, counter)
	downToUp, upToDown := counter.snapshot()

	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn("copy error", "error", err,
			"bytes_downstream_to_upstream", downToUp,
			"bytes_upstream_to_downstream", upToDown)
		return
	}
	log.Info("connection closed",
		"bytes_downstream_to_upstream", downToUp,
		"bytes_upstream_to_downstream", upToDown)
}

// splice runs a full-duplex byte copy between downstream and upstream until either
// direction closes or errors, counting bytes in each direction.
func splice(ctx context.Context, downstream, upstream net.Conn, counter *trafficCounter) error {
	var wg sync.WaitGroup
	wg.Add(2)

	errs := make(chan error, 2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(upstream, downstream)
		counter.addDownstreamToUpstream(n)
		closeWrite(upstream)
		errs <- err
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(downstream, upstream)
		counter.addUpstreamToDownstream(n)
		closeWrite(downstream)
		errs <- err
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		downstream.Close()
		upstream.Close()
		<-done
	case <-done:
	}
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

type writeCloser interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
	}
}
