package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes evaluated when a record is logged.
type ContextProvider func() []slog.Attr

// SessionContext adds the session id and the number of open channels to
// every record. Either source may be nil.
func SessionContext(id func() string, open func() int) ContextProvider {
	return func() []slog.Attr {
		var attrs []slog.Attr
		if id != nil {
			if v := id(); v != "" {
				attrs = append(attrs, slog.String("session", v))
			}
		}
		if open != nil {
			attrs = append(attrs, slog.Int("openChannels", open()))
		}
		return attrs
	}
}

// ContextHandler appends the provider's attributes to each record before
// passing it on.
type ContextHandler struct {
	next  slog.Handler
	attrs ContextProvider
}

func NewContextHandler(next slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{next: next, attrs: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.attrs != nil {
		if extra := h.attrs(); len(extra) > 0 {
			r.AddAttrs(extra...)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.next.WithAttrs(attrs), h.attrs)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.next.WithGroup(name), h.attrs)
}
