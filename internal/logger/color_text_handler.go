package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// ColorTextHandler wraps slog.TextHandler to add ANSI color codes for different log levels.
// The colored level is written ahead of the formatted record, outside any
// quoting the text handler applies to the message.
type ColorTextHandler struct {
	*slog.TextHandler
	w   io.Writer
	mu  *sync.Mutex
	buf *bytes.Buffer
}

// NewColorTextHandler creates a new ColorTextHandler. When showTime is false the
// time and level attributes are dropped, which keeps interactive output short.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	if !showTime {
		prev := o.ReplaceAttr
		o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			if prev != nil {
				return prev(groups, a)
			}
			return a
		}
	}
	buf := &bytes.Buffer{}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(buf, &o),
		w:           w,
		mu:          &sync.Mutex{},
		buf:         buf,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	h.buf.WriteString(colorCode + r.Level.String() + "\033[0m  ")
	if err := h.TextHandler.Handle(ctx, r); err != nil {
		return err
	}
	_, err := h.w.Write(h.buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler and keeps the coloring.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.TextHandler.WithAttrs(attrs))
}

// WithGroup implements slog.Handler and keeps the coloring.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.TextHandler.WithGroup(name))
}

func (h *ColorTextHandler) derive(next slog.Handler) slog.Handler {
	th, ok := next.(*slog.TextHandler)
	if !ok {
		return next
	}
	return &ColorTextHandler{TextHandler: th, w: h.w, mu: h.mu, buf: h.buf}
}
