package supervisor

import (
	"time"

	"github.com/loykin/mulyo/internal/process"
)

// Event reports a state transition of one target.
type Event struct {
	State    State
	Name     string
	Script   string
	PID      int // current pid, zero before the first spawn
	Restarts int
	Exit     *process.Exit // set for exit-derived states
	Err      error         // set for StateFailed
	At       time.Time
}

// Listener receives events synchronously from the supervising goroutine and
// must not block.
type Listener func(Event)
