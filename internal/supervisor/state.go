package supervisor

import (
	"syscall"

	"github.com/loykin/mulyo/internal/process"
)

// State is a position in a target's lifecycle.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateExitedClean
	StateExitedSignal
	StateCrashed
	StateRestarting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExitedClean:
		return "exited"
	case StateExitedSignal:
		return "signalled"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow for the target.
func (s State) Terminal() bool {
	switch s {
	case StateExitedClean, StateExitedSignal, StateStopped, StateFailed:
		return true
	}
	return false
}

// ExitKind classifies a child exit.
type ExitKind int

const (
	// ExitCrash is any non-zero exit or non-graceful signal; it is restarted.
	ExitCrash ExitKind = iota
	// ExitClean is exit code 0.
	ExitClean
	// ExitGraceful is termination by SIGTERM or SIGINT.
	ExitGraceful
)

func (k ExitKind) String() string {
	switch k {
	case ExitClean:
		return "clean"
	case ExitGraceful:
		return "graceful"
	default:
		return "crash"
	}
}

// State maps the kind to the state entered after the exit.
func (k ExitKind) State() State {
	switch k {
	case ExitClean:
		return StateExitedClean
	case ExitGraceful:
		return StateExitedSignal
	default:
		return StateCrashed
	}
}

var gracefulSignals = map[syscall.Signal]bool{
	syscall.SIGTERM: true,
	syscall.SIGINT:  true,
}

// Classify decides how an exit is handled.
func Classify(e process.Exit) ExitKind {
	if e.Signaled() {
		if gracefulSignals[e.Signal] {
			return ExitGraceful
		}
		return ExitCrash
	}
	if e.Err == nil && e.Code == 0 {
		return ExitClean
	}
	return ExitCrash
}
