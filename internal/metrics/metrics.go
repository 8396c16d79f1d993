// Package metrics keeps Prometheus counters for supervised targets. There is
// no listener; snapshots are written in the node-exporter textfile format.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mulyo/internal/supervisor"
)

const namespace = "mulyo"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	targetStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "starts_total",
			Help:      "Number of successful spawns, restarts included.",
		}, []string{"name"},
	)
	targetRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "restarts_total",
			Help:      "Number of respawns after a crash.",
		}, []string{"name"},
	)
	targetExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "exits_total",
			Help:      "Number of child exits by kind (clean, graceful, crash).",
		}, []string{"name", "kind"},
	)
	targetFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "failures_total",
			Help:      "Number of targets that ended in the failed state.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between supervision states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "current_state",
			Help:      "Current state of targets (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	targetRestartCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "restart_count",
			Help:      "Restart counter of the current incarnation.",
		}, []string{"name"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{targetStarts, targetRestarts, targetExits, targetFailures, stateTransitions, currentStates, targetRestartCount}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Helpers below no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		targetStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		targetRestarts.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, kind supervisor.ExitKind) {
	if regOK.Load() {
		targetExits.WithLabelValues(name, kind.String()).Inc()
	}
}

func IncFailure(name string) {
	if regOK.Load() {
		targetFailures.WithLabelValues(name).Inc()
	}
}

func SetRestartCount(name string, n int) {
	if regOK.Load() {
		targetRestartCount.WithLabelValues(name).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

// WriteTextfile writes everything g gathers to path, atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
