package rule

import (
	"bufio"
	"io"
	"log/slog"
)

// Compile reads newline-delimited mapping rules from r, expands ranges and
// t+u entries, deduplicates by (protocol, listen_port), and returns the
// flat compiled table. The result's order is unspecified; parse and
// collision errors are logged as warnings and do not stop the scan.
func Compile(r io.Reader, logger *slog.Logger) []CompiledRule {
	if logger == nil {
		logger = slog.Default()
	}

	table := make(map[key]CompiledRule)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		raw, err := Parse(line)
		if err != nil {
			if IsKind(err, ErrEmpty) {
				continue
			}
			logger.Warn("skipping malformed rule", "error", err, "line", line)
			continue
		}
		insertExpanded(table, raw, logger)
	}

	out := make([]CompiledRule, 0, len(table))
	for _, cr := range table {
		out = append(out, cr)
	}
	return out
}

// insertExpanded performs range and t+u expansion for one RawRule and
// inserts the resulting entries into table, logging on overwrite.
func insertExpanded(table map[key]CompiledRule, raw RawRule, logger *slog.Logger) {
	protocols := []Protocol{raw.Protocol}
	if raw.Protocol == ProtocolBoth {
		protocols = []Protocol{ProtocolTCP, ProtocolUDP}
	}

	n := raw.ListenPorts.Len()
	for _, proto := range protocols {
		for i := 0; i < n; i++ {
			cr := CompiledRule{
				Protocol:     proto,
				ListenPort:   raw.ListenPorts.Lo + uint16(i),
				UpstreamHost: raw.UpstreamHost,
				UpstreamPort: raw.UpstreamPorts.Lo + uint16(i),
			}
			k := key{Protocol: proto, Port: cr.ListenPort}
			if prev, exists := table[k]; exists {
				logger.Warn("overwriting duplicate rule",
					"proto", string(proto),
					"port", cr.ListenPort,
					"previous_upstream", prev.UpstreamAddr(),
					"new_upstream", cr.UpstreamAddr(),
				)
			}
			table[k] = cr
		}
	}
}
