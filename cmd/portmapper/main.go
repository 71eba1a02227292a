package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/share121/port-mapping/internal/config"
	"github.com/share121/port-mapping/internal/logging"
	"github.com/share121/port-mapping/internal/supervisor"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portmapper",
		Short: "A multi-protocol layer-4 port forwarder",
		Long:  `portmapper reads a mapping file of TCP/UDP rules and forwards each listen port to its configured upstream.`,
		RunE:  run,
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New()
	logger.Info("starting portmapper",
		"mapping_file", cfg.MappingFile,
		"udp_idle_timeout", cfg.UDPIdleTimeout,
		"tcp_dial_timeout", cfg.TCPDialTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, logger)
	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		return err
	}

	logger.Info("portmapper exited gracefully")
	return nil
}
