// Package detector answers whether a recorded PID still belongs to a live
// process without disturbing it.
package detector

import (
	"log/slog"
	"time"
)

// DefaultReuseTolerance is how much later than its registration a process may
// have been created before the PID is considered reused.
const DefaultReuseTolerance = 2 * time.Second

// Prober probes registry entries. Besides the signal-0 check it compares the
// OS creation time of the PID with the time the entry was registered, so a
// PID recycled by an unrelated, newer process reads as dead.
type Prober struct {
	Tolerance time.Duration
	Logger    *slog.Logger

	// overridable in tests
	alive     func(int) bool
	startedAt func(int) (time.Time, bool)
}

// NewProber returns a Prober using the OS probes.
func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{Tolerance: DefaultReuseTolerance, Logger: logger}
}

// Alive reports whether pid is alive and, when registeredAt is non-zero, was
// not created after registeredAt+Tolerance.
func (p *Prober) Alive(pid int, registeredAt time.Time) bool {
	aliveFn, startFn := IsAlive, StartTime
	if p != nil && p.alive != nil {
		aliveFn = p.alive
	}
	if p != nil && p.startedAt != nil {
		startFn = p.startedAt
	}
	if !aliveFn(pid) {
		return false
	}
	if registeredAt.IsZero() {
		return true
	}
	created, ok := startFn(pid)
	if !ok {
		return true
	}
	tol := DefaultReuseTolerance
	if p != nil && p.Tolerance > 0 {
		tol = p.Tolerance
	}
	if created.After(registeredAt.Add(tol)) {
		if p != nil && p.Logger != nil {
			p.Logger.Debug("pid reused by a newer process", "pid", pid,
				"registered_at", registeredAt, "created_at", created)
		}
		return false
	}
	return true
}
