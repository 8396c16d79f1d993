package process

import (
	"bytes"
	"io"
	"sync"
)

// lineWriter passes complete lines through fn before writing them to w.
type lineWriter struct {
	mu  sync.Mutex
	w   io.Writer
	fn  Sanitizer
	buf []byte
}

func newLineWriter(w io.Writer, fn Sanitizer) *lineWriter {
	return &lineWriter{w: w, fn: fn}
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := string(l.buf[:i])
		l.buf = l.buf[i+1:]
		if _, err := io.WriteString(l.w, l.fn(line)+"\n"); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes a trailing unterminated line, if any.
func (l *lineWriter) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) == 0 {
		return
	}
	_, _ = io.WriteString(l.w, l.fn(string(l.buf)))
	l.buf = nil
}
