// Package watch follows supervisor log files and renders a periodic status
// view. Both loops block until their context is cancelled.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoLogs is returned when none of the requested files exist.
var ErrNoLogs = errors.New("no log files to follow")

const DefaultPollInterval = 500 * time.Millisecond

// Tailer copies data appended to log files after Run starts. Existing
// content is not replayed.
type Tailer struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	// Ready, if set, is called once the starting offsets are recorded.
	Ready func()
}

type followed struct {
	path   string
	offset int64
}

// Run follows paths until ctx is cancelled. Missing files are skipped.
// fsnotify write events trigger an immediate read; the poll interval covers
// filesystems without notifications. A file that shrinks is read again from
// the start.
func (t *Tailer) Run(ctx context.Context, sink io.Writer, paths ...string) error {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	poll := t.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	var files []*followed
	byPath := make(map[string]*followed)
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			log.Debug("skipping log file", "path", p, "error", err)
			continue
		}
		f := &followed{path: filepath.Clean(p), offset: fi.Size()}
		files = append(files, f)
		byPath[f.path] = f
	}
	if len(files) == 0 {
		return ErrNoLogs
	}

	var (
		events chan fsnotify.Event
		errs   chan error
	)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, polling only", "error", err)
	} else {
		defer func() { _ = w.Close() }()
		for _, f := range files {
			if err := w.Add(f.path); err != nil {
				log.Debug("watch failed, polling", "path", f.path, "error", err)
			}
		}
		events, errs = w.Events, w.Errors
	}
	if t.Ready != nil {
		t.Ready()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if f, ok := byPath[filepath.Clean(ev.Name)]; ok {
				t.drain(f, sink, log)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Debug("fsnotify error", "error", err)
		case <-ticker.C:
			for _, f := range files {
				t.drain(f, sink, log)
			}
		}
	}
}

func (t *Tailer) drain(f *followed, sink io.Writer, log *slog.Logger) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return
	}
	size := fi.Size()
	if size < f.offset {
		log.Debug("log truncated, rewinding", "path", f.path)
		f.offset = 0
	}
	if size == f.offset {
		return
	}
	n, err := copyRange(sink, f.path, f.offset, size-f.offset)
	f.offset += n
	if err != nil {
		log.Warn("tail read failed", "path", f.path, "error", err)
	}
}

func copyRange(dst io.Writer, path string, off, n int64) (int64, error) {
	// #nosec G304 -- log path resolved by mulyo
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fh.Close() }()
	written, err := io.Copy(dst, io.NewSectionReader(fh, off, n))
	if err != nil {
		return written, fmt.Errorf("copy %s: %w", path, err)
	}
	return written, nil
}
