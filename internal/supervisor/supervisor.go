// Package supervisor ties the rule compiler and the TCP/UDP forwarders
// together into the process's boot sequence: size the UDP receive buffer,
// locate the mapping file, compile the rules, and fan out one forwarder
// task per compiled rule.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/share121/port-mapping/internal/config"
	"github.com/share121/port-mapping/internal/forward"
	"github.com/share121/port-mapping/internal/rule"
	"github.com/share121/port-mapping/internal/sockopt"
)

// Supervisor owns the boot sequence and the lifetime of every forwarder
// task it spawns.
type Supervisor struct {
	cfg    config.Runtime
	logger *slog.Logger
}

// New creates a Supervisor from its runtime configuration.
func New(cfg config.Runtime, logger *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// Run executes the full boot sequence and then blocks until every spawned
// forwarder task exits or ctx is cancelled. A failure locating the mapping
// file or querying the UDP receive-buffer size is returned immediately;
// everything after that point is best-effort per rule.
func (s *Supervisor) Run(ctx context.Context) error {
	bufSize, err := sockopt.DefaultUDPReceiveBufferSize()
	if err != nil {
		return fmt.Errorf("querying UDP receive buffer size: %w", err)
	}
	s.logger.Info("udp receive buffer size", "bytes", bufSize)

	path, err := locateMappingFile(s.cfg.MappingFile)
	if err != nil {
		return fmt.Errorf("locating mapping file: %w", err)
	}
	s.logger.Info("using mapping file", "path", path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening mapping file: %w", err)
	}
	defer f.Close()

	rules := rule.Compile(f, s.logger)
	s.logger.Info("compiled rules", "count", len(rules))
	if len(rules) == 0 {
		s.logger.Warn("no rules compiled, nothing to forward")
		return nil
	}

	// A plain errgroup.Group, not errgroup.WithContext: one rule's error must
	// never cancel its siblings, so every task shares the caller's ctx
	// directly instead of a derived one errgroup would cancel on first error.
	var g errgroup.Group
	for _, cr := range rules {
		cr := cr
		g.Go(func() error {
			return s.runRule(ctx, cr, bufSize)
		})
	}

	g.Wait()
	return nil
}

// runRule starts the forwarder for one compiled rule and logs a rule-level
// fatal error (e.g. bind failure) without affecting any other rule. The
// error it returns is not consulted: Run ignores errgroup.Wait's return
// value.
func (s *Supervisor) runRule(ctx context.Context, cr rule.CompiledRule, bufSize int) error {
	return runGuarded(s.logger, cr.Label(), func() error {
		var err error
		switch {
		case cr.Protocol.IsTCP():
			f := forward.NewTCPForwarder(cr, s.cfg.TCPDialTimeout, s.logger)
			err = f.Run(ctx)
		case cr.Protocol.IsUDP():
			f := forward.NewUDPForwarder(cr, s.cfg.UDPIdleTimeout, s.cfg.UDPIngressQueueSize, bufSize, s.logger)
			err = f.Run(ctx)
		default:
			err = fmt.Errorf("unknown protocol %q for rule %s", cr.Protocol, cr.Label())
		}

		if err != nil {
			s.logger.Error("rule task exited", "rule", cr.Label(), "error", err)
		}
		return err
	})
}
