// Package rule implements the mapping-file grammar: parsing one line into a
// RawRule, and compiling a stream of lines into a deduplicated table of
// CompiledRules.
package rule

// Protocol identifies which transport a rule forwards.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolBoth Protocol = "t+u"
)

var validProtocols = map[Protocol]bool{
	ProtocolTCP:  true,
	ProtocolUDP:  true,
	ProtocolBoth: true,
}

// IsValid reports whether p is one of the three recognized tokens.
func (p Protocol) IsValid() bool {
	return validProtocols[p]
}

// IsTCP reports whether connections of this protocol include TCP.
func (p Protocol) IsTCP() bool {
	return p == ProtocolTCP || p == ProtocolBoth
}

// IsUDP reports whether connections of this protocol include UDP.
func (p Protocol) IsUDP() bool {
	return p == ProtocolUDP || p == ProtocolBoth
}

// String returns the lowercase protocol token.
func (p Protocol) String() string {
	return string(p)
}

// compiledProtocol is the protocol tag used on a CompiledRule, which is
// never composite: ProtocolBoth is expanded into one TCP and one UDP entry
// before compilation completes.
type compiledProtocol = Protocol
