package alert

import (
	"context"
	"log/slog"
)

// LogHandler wraps a slog.Handler and feeds every record at or above Level
// to the engine's error pattern rules. Records from loggers tagged with
// component=alert or component=notify are passed through only, so a failing
// channel cannot raise alerts about itself.
type LogHandler struct {
	next    slog.Handler
	engine  *Engine
	level   slog.Level
	muted   bool
	turn    int
	faction string
}

// NewLogHandler returns a handler forwarding to next.
func NewLogHandler(next slog.Handler, engine *Engine, level slog.Level) *LogHandler {
	return &LogHandler{next: next, engine: engine, level: level}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l) || (!h.muted && l >= h.level)
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.muted && r.Level >= h.level && h.engine != nil {
		turn, faction := h.turn, h.faction
		r.Attrs(func(a slog.Attr) bool {
			switch a.Key {
			case "turn":
				if a.Value.Kind() == slog.KindInt64 {
					turn = int(a.Value.Int64())
				}
			case "faction":
				faction = a.Value.String()
			}
			return true
		})
		h.engine.ProcessLogEvent(ctx, r.Level, r.Message, turn, faction)
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		switch a.Key {
		case "component":
			if v := a.Value.String(); v == "alert" || v == "notify" {
				c.muted = true
			}
		case "turn":
			if a.Value.Kind() == slog.KindInt64 {
				c.turn = int(a.Value.Int64())
			}
		case "faction":
			c.faction = a.Value.String()
		}
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}
