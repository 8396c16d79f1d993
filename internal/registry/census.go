package registry

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// Prober decides whether a registered pid still belongs to a live process.
type Prober interface {
	Alive(pid int, registeredAt time.Time) bool
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(pid int, registeredAt time.Time) bool

func (f ProberFunc) Alive(pid int, registeredAt time.Time) bool { return f(pid, registeredAt) }

// Live is a registry record confirmed alive at census time.
type Live struct {
	Record
	Uptime time.Duration `json:"uptime"`
}

// Census lists the live records, removing every record whose process is
// gone as a side effect. Calling it repeatedly without external change
// yields the same set.
func Census(s *Store, p Prober, now time.Time) ([]Live, error) {
	recs, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Live, 0, len(recs))
	for _, r := range recs {
		if !p.Alive(r.PID, r.Started()) {
			s.logger.Debug("reaping dead registry entry", "pid", r.PID, "name", r.Name)
			if err := s.Remove(r.PID); err != nil {
				// keep listing; the entry is reaped on the next census
				s.logger.Warn("failed to reap registry entry", "pid", r.PID, "error", err)
			}
			continue
		}
		out = append(out, Live{Record: r, Uptime: r.Uptime(now)})
	}
	return out, nil
}

// TerminateOptions tunes Terminate.
type TerminateOptions struct {
	// Ceremony delays the signal. Zero sends it immediately.
	Ceremony time.Duration
	// Signal defaults to SIGTERM.
	Signal os.Signal

	signal func(pid int, sig os.Signal) error
}

// Terminate sends a graceful termination signal to a registered process and
// removes its record. A pid absent from the registry yields ErrTargetMissing;
// a registered but dead pid is reaped and yields ErrTargetGone. When the OS
// rejects the signal a *TerminationError is returned and the record is kept.
func Terminate(ctx context.Context, s *Store, p Prober, pid int, opts TerminateOptions) (Record, error) {
	rec, ok, err := s.Find(pid)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrTargetMissing
	}
	if !p.Alive(rec.PID, rec.Started()) {
		_ = s.Remove(pid)
		return rec, ErrTargetGone
	}
	if opts.Ceremony > 0 {
		t := time.NewTimer(opts.Ceremony)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return rec, ctx.Err()
		}
	}
	sig := opts.Signal
	if sig == nil {
		sig = syscall.SIGTERM
	}
	send := opts.signal
	if send == nil {
		send = signalPID
	}
	if err := send(pid, sig); err != nil {
		return rec, &TerminationError{PID: pid, Err: err}
	}
	if err := s.Remove(pid); err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			// the signal was delivered; only bookkeeping failed
			s.logger.Warn("process signalled but registry entry not removed", "pid", pid, "error", err)
			return rec, nil
		}
		return rec, err
	}
	return rec, nil
}

func signalPID(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
