package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LogLine is one captured log record.
type LogLine struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Time    time.Time      `json:"ts"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogHandler tees slog records to stderr and a ring buffer so the control
// surface can report recent log lines.
type LogHandler struct {
	inner slog.Handler
	level slog.Leveler
	attrs []slog.Attr

	mu        sync.Mutex
	ring      []LogLine
	ringSize  int
	ringPos   int
	ringCount int
}

func NewLogHandler(level slog.Leveler, ringSize int) *LogHandler {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &LogHandler{
		inner:    slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		ring:     make([]LogLine, ringSize),
		ringSize: ringSize,
		level:    level,
	}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	line := LogLine{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time,
	}
	if len(attrs) > 0 {
		line.Attrs = attrs
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.ringPos] = line
	h.ringPos = (h.ringPos + 1) % h.ringSize
	if h.ringCount < h.ringSize {
		h.ringCount++
	}
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.cloneLocked()
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.cloneLocked()
	clone.inner = h.inner.WithGroup(name)
	return clone
}

// cloneLocked copies every field except the mutex, which must not be copied.
func (h *LogHandler) cloneLocked() *LogHandler {
	return &LogHandler{
		inner:     h.inner,
		level:     h.level,
		attrs:     h.attrs,
		ring:      h.ring,
		ringSize:  h.ringSize,
		ringPos:   h.ringPos,
		ringCount: h.ringCount,
	}
}

// Recent returns the buffered log lines, oldest first.
func (h *LogHandler) Recent() []LogLine {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ringCount == 0 {
		return nil
	}
	out := make([]LogLine, h.ringCount)
	start := (h.ringPos - h.ringCount + h.ringSize) % h.ringSize
	for i := range h.ringCount {
		out[i] = h.ring[(start+i)%h.ringSize]
	}
	return out
}
