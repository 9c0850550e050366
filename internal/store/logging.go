package store

import (
	"context"
	"log/slog"
)

// levelHandler overrides the minimum level of the wrapped handler. The
// store uses it to emit debug records when Options.Debug is set, whatever
// level the application logger runs at.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func withLevel(level slog.Leveler, h slog.Handler) *levelHandler {
	if lh, ok := h.(*levelHandler); ok {
		h = lh.handler
	}
	return &levelHandler{level: level, handler: h}
}

func (h *levelHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return withLevel(h.level, h.handler.WithAttrs(attrs))
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return withLevel(h.level, h.handler.WithGroup(name))
}
