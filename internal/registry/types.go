package registry

import "time"

// Mode records how a process was started.
type Mode string

const (
	ModeManual   Mode = "manual"
	ModeDetached Mode = "detached"
)

// Default values stamped on newly registered records.
const (
	StatusRunning  = "running"
	DefaultLoyalty = "100%"
)

// Record is one supervised background process as persisted in the registry
// file. Status, Loyalty and Restarts are informational only: liveness must
// always be probed, never read from Status.
type Record struct {
	PID       int      `json:"pid"`
	Name      string   `json:"name"`
	Args      []string `json:"args,omitempty"`
	Mode      Mode     `json:"mode"`
	StartTime int64    `json:"startTime"` // ms since epoch
	JoinedAt  string   `json:"joinedAt"`  // ISO-8601, for display
	Status    string   `json:"status"`
	Loyalty   string   `json:"loyalty"`
	Restarts  int      `json:"restarts"`
	// TargetPID is the script currently run by a detached supervisor.
	TargetPID int `json:"targetPid,omitempty"`
}

// SamplePID is the pid whose resource usage represents the record: the
// current target when known, the registered process otherwise.
func (r Record) SamplePID() int {
	if r.TargetPID > 0 {
		return r.TargetPID
	}
	return r.PID
}

// Started returns StartTime as a time.Time (zero when unset).
func (r Record) Started() time.Time {
	if r.StartTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.StartTime)
}

// Uptime returns how long the record has been registered at now.
func (r Record) Uptime(now time.Time) time.Duration {
	st := r.Started()
	if st.IsZero() || now.Before(st) {
		return 0
	}
	return now.Sub(st)
}
