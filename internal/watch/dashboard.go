package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/mulyo/internal/metrics"
	"github.com/loykin/mulyo/internal/registry"
)

const DefaultInterval = 2 * time.Second

// UsageSampler reads per-process resource usage. *metrics.Sampler is the
// production implementation.
type UsageSampler interface {
	Sample(ctx context.Context, pid int) (metrics.Usage, error)
	Prune(keep []int)
}

// Entry is one row of the dashboard.
type Entry struct {
	Name       string
	PID        int
	TargetPID  int
	Alive      bool
	Status     string
	Restarts   int
	Uptime     time.Duration
	CPUPercent float64
	MemoryMB   float64
}

// Snapshot is one rendering of the dashboard.
type Snapshot struct {
	At      time.Time
	Entries []Entry
}

// Dashboard periodically samples registered processes and hands the result
// to Render. It never modifies the registry.
type Dashboard struct {
	Interval time.Duration
	Source   func() ([]registry.Record, error)
	Prober   registry.Prober
	Sampler  UsageSampler
	Render   func(Snapshot)
	// PIDs restricts the view; empty shows every record.
	PIDs   []int
	Logger *slog.Logger

	now func() time.Time
}

// Run renders immediately and then every interval. It blocks until ctx is
// cancelled and returns the first Source error, if any.
func (d *Dashboard) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := d.Snapshot(ctx)
		if err != nil {
			return err
		}
		if d.Render != nil {
			d.Render(snap)
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Snapshot samples the selected records once.
func (d *Dashboard) Snapshot(ctx context.Context) (Snapshot, error) {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	recs, err := d.Source()
	if err != nil {
		return Snapshot{}, err
	}
	want := make(map[int]bool, len(d.PIDs))
	for _, p := range d.PIDs {
		want[p] = true
	}

	at := now()
	snap := Snapshot{At: at}
	var live []int
	for _, r := range recs {
		if len(want) > 0 && !want[r.PID] {
			continue
		}
		e := Entry{Name: r.Name, PID: r.PID, TargetPID: r.TargetPID, Status: r.Status, Restarts: r.Restarts}
		if d.Prober != nil {
			e.Alive = d.Prober.Alive(r.PID, r.Started())
		}
		if e.Alive {
			e.Uptime = r.Uptime(at)
			pid := r.SamplePID()
			live = append(live, pid)
			if d.Sampler != nil {
				u, err := d.Sampler.Sample(ctx, pid)
				if err != nil {
					log.Debug("sample failed", "pid", pid, "error", err)
				} else {
					e.CPUPercent, e.MemoryMB = u.CPUPercent, u.MemoryMB
				}
			}
		}
		snap.Entries = append(snap.Entries, e)
	}
	if d.Sampler != nil {
		d.Sampler.Prune(live)
	}
	return snap, nil
}
