package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mulyo/internal/supervisor"
)

// Recorder turns supervisor events into metric updates and, when a path is
// set, refreshes a textfile snapshot after every event.
type Recorder struct {
	Path     string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	mu   sync.Mutex
	last map[string]supervisor.State
}

func NewRecorder(path string, g prometheus.Gatherer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Recorder{Path: path, Gatherer: g, Logger: logger, last: make(map[string]supervisor.State)}
}

// Listen is a supervisor.Listener.
func (r *Recorder) Listen(ev supervisor.Event) {
	switch ev.State {
	case supervisor.StateRunning:
		IncStart(ev.Name)
		if ev.Restarts > 0 {
			IncRestart(ev.Name)
		}
		SetRestartCount(ev.Name, ev.Restarts)
	case supervisor.StateFailed:
		IncFailure(ev.Name)
	}
	if ev.Exit != nil && (ev.State == supervisor.StateCrashed || ev.State == supervisor.StateExitedClean || ev.State == supervisor.StateExitedSignal) {
		IncExit(ev.Name, supervisor.Classify(*ev.Exit))
	}

	r.mu.Lock()
	prev, seen := r.last[ev.Name]
	r.last[ev.Name] = ev.State
	r.mu.Unlock()
	if seen && prev != ev.State {
		RecordStateTransition(ev.Name, prev.String(), ev.State.String())
		SetCurrentState(ev.Name, prev.String(), false)
	}
	SetCurrentState(ev.Name, ev.State.String(), true)

	if r.Path != "" {
		if err := WriteTextfile(r.Path, r.Gatherer); err != nil {
			r.Logger.Warn("metrics snapshot failed", "path", r.Path, "error", err)
		}
	}
}
