// Package logging builds the process's slog.Logger on top of
// github.com/lmittmann/tint, with two tint handlers (stdout for info,
// stderr for warnings and errors), wrapped the way orris-inc-orris's
// conditionalsourcehandler.go wraps a base slog.Handler: intercept the
// record, rewrite/add attributes, delegate.
//
// Every line starts with a level tag, "[info]" or "[warning]". A logger
// bound with a "proto" attribute also gets a protocol tag ("[tcp]"/"[udp]")
// in the message prefix; bracketTagHandler consumes that attribute. The rule
// identifier "listen_addr->upstream_addr" is supplied as a "rule" attribute
// and printed as an ordinary key=value field, not in the prefix.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// New builds the process logger: informational records go to stdout,
// warnings and errors go to stderr.
func New() *slog.Logger {
	stdout := tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug})
	stderr := tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn})
	return slog.New(&bracketTagHandler{inner: &levelSplitHandler{
		infoHandler:  stdout,
		warnHandler:  stderr,
		minInfoLevel: slog.LevelDebug,
	}})
}

// levelSplitHandler routes a record to one of two inner handlers based on
// whether its level is below slog.LevelWarn.
type levelSplitHandler struct {
	infoHandler  slog.Handler
	warnHandler  slog.Handler
	minInfoLevel slog.Level
}

func (h *levelSplitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.infoHandler.Enabled(ctx, level) || h.warnHandler.Enabled(ctx, level)
}

func (h *levelSplitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.warnHandler.Handle(ctx, r)
	}
	return h.infoHandler.Handle(ctx, r)
}

func (h *levelSplitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelSplitHandler{
		infoHandler:  h.infoHandler.WithAttrs(attrs),
		warnHandler:  h.warnHandler.WithAttrs(attrs),
		minInfoLevel: h.minInfoLevel,
	}
}

func (h *levelSplitHandler) WithGroup(name string) slog.Handler {
	return &levelSplitHandler{
		infoHandler:  h.infoHandler.WithGroup(name),
		warnHandler:  h.warnHandler.WithGroup(name),
		minInfoLevel: h.minInfoLevel,
	}
}

// bracketTagHandler prepends "[level] [proto] " to the message, pulling
// "proto" out of bound attributes (set via Logger.With) if present, then
// delegates to the wrapped handler for actual formatting/output. "proto" is
// consumed here rather than also printed as a key=value field, the same
// rewrite-then-delegate shape conditionalsourcehandler.go uses.
type bracketTagHandler struct {
	inner slog.Handler
	proto string
}

func (h *bracketTagHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *bracketTagHandler) Handle(ctx context.Context, r slog.Record) error {
	levelTag := "info"
	if r.Level >= slog.LevelWarn {
		levelTag = "warning"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", levelTag)
	if h.proto != "" {
		fmt.Fprintf(&b, " [%s]", h.proto)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	out := slog.NewRecord(r.Time, r.Level, b.String(), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *bracketTagHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	proto := h.proto
	rest := attrs[:0:0]
	for _, a := range attrs {
		if a.Key == "proto" {
			proto = a.Value.String()
			continue
		}
		rest = append(rest, a)
	}
	return &bracketTagHandler{inner: h.inner.WithAttrs(rest), proto: proto}
}

func (h *bracketTagHandler) WithGroup(name string) slog.Handler {
	return &bracketTagHandler{inner: h.inner.WithGroup(name), proto: h.proto}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
