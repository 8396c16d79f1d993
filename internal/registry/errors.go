package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt marks registry content that is not a JSON array of records.
	// Load recovers from it by resetting the file.
	ErrCorrupt = errors.New("registry corrupt")
	// ErrTargetMissing is returned by Terminate when the pid is not registered.
	ErrTargetMissing = errors.New("pid not found in registry")
	// ErrTargetGone is returned by Terminate when the registered pid is no
	// longer alive; the entry has been reaped.
	ErrTargetGone = errors.New("registered process is no longer running")
)

// WriteError reports a failed save. The caller's view of the registry may
// now differ from what is on disk.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write registry %s: %v", e.Path, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// TerminationError reports that the OS rejected the termination signal.
// The registry entry is left untouched.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate pid %d: %v", e.PID, e.Err)
}
func (e *TerminationError) Unwrap() error { return e.Err }
