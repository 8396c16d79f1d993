// Package history journals supervision events so they outlive the process
// that observed them.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/mulyo/internal/supervisor"
)

// Event is one journalled state transition.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	State      string    `json:"state"`
	Name       string    `json:"name"`
	Script     string    `json:"script"`
	PID        int       `json:"pid"`
	Restarts   int       `json:"restarts"`
	Detail     string    `json:"detail,omitempty"` // exit description or error
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader returns the most recent events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// FromSupervisor converts a supervisor event.
func FromSupervisor(ev supervisor.Event) Event {
	e := Event{
		OccurredAt: ev.At,
		State:      ev.State.String(),
		Name:       ev.Name,
		Script:     ev.Script,
		PID:        ev.PID,
		Restarts:   ev.Restarts,
	}
	switch {
	case ev.Err != nil:
		e.Detail = ev.Err.Error()
	case ev.Exit != nil:
		e.Detail = ev.Exit.String()
	}
	return e
}

// Listener journals every supervisor event into sink. Failures are logged and
// never interrupt supervision.
func Listener(sink Sink, logger *slog.Logger) supervisor.Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev supervisor.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sink.Send(ctx, FromSupervisor(ev)); err != nil {
			logger.Warn("history write failed", "name", ev.Name, "state", ev.State.String(), "error", err)
		}
	}
}
