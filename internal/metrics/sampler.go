package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
	RSS        uint64
	NumThreads int32
}

// Sampler measures CPU and memory of arbitrary pids. Handles are cached per
// pid so CPU percentages are computed between consecutive samples.
type Sampler struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
}

func NewSampler() *Sampler {
	return &Sampler{procs: make(map[int32]*process.Process)}
}

// Sample returns the current usage of pid.
func (s *Sampler) Sample(ctx context.Context, pid int) (Usage, error) {
	p, err := s.handle(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	cpu, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		cpu = 0
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		s.forget(int32(pid))
		return Usage{}, fmt.Errorf("memory info for %d: %w", pid, err)
	}
	threads, _ := p.NumThreadsWithContext(ctx)
	return Usage{
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		RSS:        mem.RSS,
		NumThreads: threads,
	}, nil
}

// Prune drops cached handles for pids not in keep.
func (s *Sampler) Prune(keep []int) {
	want := make(map[int32]bool, len(keep))
	for _, pid := range keep {
		want[int32(pid)] = true
	}
	s.mu.Lock()
	for pid := range s.procs {
		if !want[pid] {
			delete(s.procs, pid)
		}
	}
	s.mu.Unlock()
}

func (s *Sampler) handle(ctx context.Context, pid int32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	s.procs[pid] = p
	return p, nil
}

func (s *Sampler) forget(pid int32) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}
