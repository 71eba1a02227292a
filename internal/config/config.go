// Package config holds the process's runtime tunables — the handful of
// values (idle-session timeout, ingress queue bound) that a real deployment
// wants to adjust without recompiling. This is distinct
// from the mapping-rule file (internal/rule), which stays a hand-rolled
// line grammar; these are ordinary environment-driven settings, following
// orris-inc-orris's internal/shared/config pattern of mapstructure-tagged
// structs loaded through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime holds tunables that would otherwise be hardcoded constants.
type Runtime struct {
	// MappingFile is the rule file name discovered at startup: current
	// working directory first, then the executable's directory.
	MappingFile string `mapstructure:"mapping_file"`

	// UDPIdleTimeout is the per-session idle-reclamation window.
	UDPIdleTimeout time.Duration `mapstructure:"udp_idle_timeout"`

	// UDPIngressQueueSize is the bounded ingress queue depth per session.
	UDPIngressQueueSize int `mapstructure:"udp_ingress_queue_size"`

	// TCPDialTimeout bounds how long a TCP forwarder waits to dial upstream
	// before treating the connection as a per-connection transient failure.
	TCPDialTimeout time.Duration `mapstructure:"tcp_dial_timeout"`
}

// Default returns the tunables at their baked-in default values.
func Default() Runtime {
	return Runtime{
		MappingFile:         "mapping.txt",
		UDPIdleTimeout:      60 * time.Second,
		UDPIngressQueueSize: 100,
		TCPDialTimeout:      10 * time.Second,
	}
}

// Load reads overrides from PORTMAPPER_-prefixed environment variables on
// top of Default(), e.g. PORTMAPPER_UDP_IDLE_TIMEOUT=30s.
func Load() (Runtime, error) {
	v := viper.New()
	v.SetEnvPrefix("PORTMAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("mapping_file", def.MappingFile)
	v.SetDefault("udp_idle_timeout", def.UDPIdleTimeout.String())
	v.SetDefault("udp_ingress_queue_size", def.UDPIngressQueueSize)
	v.SetDefault("tcp_dial_timeout", def.TCPDialTimeout.String())

	udpIdleTimeout, err := time.ParseDuration(v.GetString("udp_idle_timeout"))
	if err != nil {
		return Runtime{}, fmt.Errorf("udp_idle_timeout: %w", err)
	}
	tcpDialTimeout, err := time.ParseDuration(v.GetString("tcp_dial_timeout"))
	if err != nil {
		return Runtime{}, fmt.Errorf("tcp_dial_timeout: %w", err)
	}

	return Runtime{
		MappingFile:         v.GetString("mapping_file"),
		UDPIdleTimeout:      udpIdleTimeout,
		UDPIngressQueueSize: v.GetInt("udp_ingress_queue_size"),
		TCPDialTimeout:      tcpDialTimeout,
	}, nil
}
