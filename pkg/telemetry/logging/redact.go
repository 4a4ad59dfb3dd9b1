package logging

import (
	"context"
	"log/slog"

	"mercator-hq/triton/pkg/trace"
)

// redactingHandler scrubs secret-shaped substrings from string attribute
// values before they reach the inner handler. The message itself is left
// alone; secrets belong in attributes, and scrubbing messages would also
// mangle static text.
type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	scrubbed := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		scrubbed.AddAttrs(scrubAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, scrubbed)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		out[i] = scrubAttr(attr)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(out)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		s, _ := trace.ScrubString(attr.Value.String())
		return slog.String(attr.Key, s)
	case slog.KindGroup:
		group := attr.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, member := range group {
			out[i] = scrubAttr(member)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(out...)}
	default:
		return attr
	}
}
