package rule

import (
	"strconv"
	"strings"
)

// Parse tokenizes and validates a single mapping-file line against the
// rule grammar. It never panics and never aborts a caller's line-by-line loop:
// every rejection is returned as a *ParseError with a discriminable Kind.
func Parse(line string) (RawRule, error) {
	stripped := stripComment(line)
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return RawRule{}, newErr(ErrEmpty, "")
	}

	proto, ok := parseProtocol(fields[0])
	if !ok {
		return RawRule{}, newErr(ErrInvalidProtocol, fields[0])
	}

	if len(fields) < 2 {
		return RawRule{}, newErr(ErrMissingListenPort, "")
	}
	listenRange, err := parsePortSpec(fields[1], ErrInvalidListenPort, ErrInvalidListenPortRange)
	if err != nil {
		return RawRule{}, err
	}

	if len(fields) < 3 {
		return RawRule{}, newErr(ErrMissingUpstream, "")
	}
	host, upstreamRange, err := parseUpstreamSpec(fields[2])
	if err != nil {
		return RawRule{}, err
	}

	if listenRange.Len() != upstreamRange.Len() {
		return RawRule{}, newErr(ErrUnmatchedPortRange, fields[1]+" "+fields[2])
	}

	return RawRule{
		Protocol:      proto,
		ListenPorts:   listenRange,
		UpstreamHost:  host,
		UpstreamPorts: upstreamRange,
	}, nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

func parseProtocol(tok string) (Protocol, bool) {
	p := Protocol(strings.ToLower(tok))
	return p, p.IsValid()
}

func parsePortSpec(tok string, invalidKind, rangeKind ErrKind) (PortRange, error) {
	lo, hi, hasRange := strings.Cut(tok, "-")
	loPort, err := parsePort(lo)
	if err != nil {
		return PortRange{}, newErr(invalidKind, tok)
	}
	if !hasRange {
		return PortRange{Lo: loPort, Hi: loPort}, nil
	}
	hiPort, err := parsePort(hi)
	if err != nil {
		return PortRange{}, newErr(invalidKind, tok)
	}
	if loPort > hiPort {
		return PortRange{}, newErr(rangeKind, tok)
	}
	return PortRange{Lo: loPort, Hi: hiPort}, nil
}

func parseUpstreamSpec(tok string) (string, PortRange, error) {
	idx := strings.LastIndexByte(tok, ':')
	if idx < 0 {
		return "", PortRange{}, newErr(ErrMissingUpstreamPort, tok)
	}
	host := tok[:idx]
	portPart := tok[idx+1:]
	if portPart == "" {
		return "", PortRange{}, newErr(ErrMissingUpstreamPort, tok)
	}
	if host == "" {
		host = "localhost"
	}
	portRange, err := parsePortSpec(portPart, ErrInvalidUpstreamPort, ErrInvalidUpstreamPortRange)
	if err != nil {
		// re-tag the offending token with the full upstream spec for context
		if pe, ok := err.(*ParseError); ok {
			pe.Offending = tok
		}
		return "", PortRange{}, err
	}
	return host, portRange, nil
}

func parsePort(s string) (uint16, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
