package rule

import "fmt"

// PortRange is an inclusive, length-aware port range [Lo, Hi].
type PortRange struct {
	Lo uint16
	Hi uint16
}

// Len returns the number of ports covered by the range.
func (r PortRange) Len() int {
	return int(r.Hi) - int(r.Lo) + 1
}

// RawRule is the product of parsing one non-empty, non-comment line.
type RawRule struct {
	Protocol      Protocol
	ListenPorts   PortRange
	UpstreamHost  string
	UpstreamPorts PortRange
}

// CompiledRule is a single-port, single-protocol, single-upstream entry
// produced by expanding a RawRule. Protocol is never ProtocolBoth here.
type CompiledRule struct {
	Protocol     compiledProtocol
	ListenPort   uint16
	UpstreamHost string
	UpstreamPort uint16
}

// ListenAddr returns the textual listen address, "0.0.0.0:<port>".
func (c CompiledRule) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.ListenPort)
}

// UpstreamAddr returns the textual upstream address, "<host>:<port>".
func (c CompiledRule) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.UpstreamHost, c.UpstreamPort)
}

// key identifies a CompiledRule's slot in the compiled table: later entries
// with the same key overwrite earlier ones.
type key struct {
	Protocol Protocol
	Port     uint16
}

// String renders the rule so that re-parsing it reproduces the same
// (protocol, listen_port, upstream) tuple: protocol, listen port, and
// upstream, in grammar order.
func (c CompiledRule) String() string {
	return fmt.Sprintf("%s %d %s", c.Protocol, c.ListenPort, c.UpstreamAddr())
}

// Label is the rule identifier used in log lines: "listen_addr->upstream_addr".
func (c CompiledRule) Label() string {
	return fmt.Sprintf("%s->%s", c.ListenAddr(), c.UpstreamAddr())
}
