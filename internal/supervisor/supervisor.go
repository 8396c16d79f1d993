// Package supervisor runs target scripts as children and restarts them after
// crashes.
//
// One goroutine supervises each target. Exits by SIGTERM or SIGINT and clean
// exits end supervision; every other exit is a crash and the target is
// respawned with the same script and configuration after the restart delay.
// StopAll and Shutdown are the in-process cancellations.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loykin/mulyo/internal/process"
)

// ErrRestartLimit is reported with StateFailed when MaxRestarts is exhausted.
var ErrRestartLimit = errors.New("restart limit reached")

// Options configure a Supervisor.
type Options struct {
	Logger    *slog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
	Sanitizer process.Sanitizer
	Listeners []Listener
}

// Tracked is a snapshot of a supervised child.
type Tracked struct {
	PID        int
	Name       string
	ScriptPath string
	StartTime  time.Time
	Restarts   int
	Config     Config
}

type entry struct {
	Tracked
	child process.Child
}

type Supervisor struct {
	log       *slog.Logger
	opts      Options
	spawn     func(process.Spec) (process.Child, error)
	mu        sync.Mutex
	tracked   map[int]*entry
	listeners []Listener
	stopping  bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log:       log,
		opts:      opts,
		spawn:     process.Spawn,
		tracked:   make(map[int]*entry),
		listeners: append([]Listener(nil), opts.Listeners...),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe adds a listener for subsequent events.
func (s *Supervisor) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Start launches script and supervises it until a terminal state. It returns
// the first pid. A missing script yields process.ErrScriptNotFound and a
// refused launch a *process.SpawnError; neither is retried. Cancelling ctx
// kills the child and ends supervision.
func (s *Supervisor) Start(ctx context.Context, script string, cfg Config) (int, error) {
	name := filepath.Base(script)
	path, err := process.Resolve(script)
	if err != nil {
		s.log.Warn("target not found", "script", script, "error", err)
		return 0, err
	}

	s.mu.Lock()
	if s.stopping {
		s.stopping = false
		s.stopCh = make(chan struct{})
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	s.emit(Event{State: StateStarting, Name: name, Script: path})
	child, err := s.spawn(s.specFor(name, path, cfg))
	if err != nil {
		s.log.Error("spawn failed", "name", name, "error", err)
		s.emit(Event{State: StateFailed, Name: name, Script: path, Err: err})
		return 0, err
	}

	e := &entry{
		Tracked: Tracked{PID: child.PID(), Name: name, ScriptPath: path, StartTime: time.Now(), Config: cfg},
		child:   child,
	}
	s.mu.Lock()
	s.tracked[e.PID] = e
	s.mu.Unlock()
	s.watchIPC(name, child)
	s.log.Info("target started", "name", name, "pid", e.PID, "variant", child.Variant().String())
	s.emit(Event{State: StateRunning, Name: name, Script: path, PID: e.PID})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, stopCh, e)
	}()
	return e.PID, nil
}

func (s *Supervisor) specFor(name, path string, cfg Config) process.Spec {
	return process.Spec{
		Name:       name,
		ScriptPath: path,
		Config:     cfg.Config,
		Stdout:     s.opts.Stdout,
		Stderr:     s.opts.Stderr,
		Sanitizer:  s.opts.Sanitizer,
		Logger:     s.log,
	}
}

func (s *Supervisor) supervise(ctx context.Context, stopCh <-chan struct{}, e *entry) {
	s.mu.Lock()
	cur := e.Tracked
	child := e.child
	s.mu.Unlock()

	for {
		var ex process.Exit
		select {
		case <-child.Done():
			ex = child.Wait()
		case <-ctx.Done():
			_ = child.Kill()
			ex = child.Wait()
			s.untrack(cur.PID)
			s.emit(s.event(StateStopped, cur, &ex, ctx.Err()))
			return
		}

		kind := Classify(ex)
		s.log.Info("target exited", "name", cur.Name, "pid", cur.PID, "exit", ex.String(), "kind", kind.String())
		if kind != ExitCrash {
			s.untrack(cur.PID)
			s.emit(s.event(kind.State(), cur, &ex, nil))
			return
		}

		s.emit(s.event(StateCrashed, cur, &ex, nil))
		if stopped(stopCh) {
			s.untrack(cur.PID)
			s.emit(s.event(StateStopped, cur, &ex, nil))
			return
		}
		if limit := cur.Config.MaxRestarts; limit > 0 && cur.Restarts >= limit {
			s.untrack(cur.PID)
			s.log.Error("giving up on target", "name", cur.Name, "restarts", cur.Restarts)
			s.emit(s.event(StateFailed, cur, &ex, ErrRestartLimit))
			return
		}

		delay := cur.Config.Delay()
		s.log.Warn("target crashed, restarting", "name", cur.Name, "pid", cur.PID, "delay", delay)
		s.emit(s.event(StateRestarting, cur, &ex, nil))
		if !sleepCtx(ctx, stopCh, delay) {
			s.untrack(cur.PID)
			s.emit(s.event(StateStopped, cur, &ex, ctx.Err()))
			return
		}

		next, err := s.spawn(s.specFor(cur.Name, cur.ScriptPath, cur.Config))
		if err != nil {
			s.untrack(cur.PID)
			s.log.Error("respawn failed", "name", cur.Name, "error", err)
			s.emit(s.event(StateFailed, cur, &ex, err))
			return
		}

		ok := s.remap(cur.PID, next)
		if !ok {
			// StopAll ran while we were spawning
			_ = next.Kill()
			next.Wait()
			s.emit(s.event(StateStopped, cur, &ex, nil))
			return
		}
		s.mu.Lock()
		cur = s.tracked[next.PID()].Tracked
		s.mu.Unlock()
		child = next
		s.watchIPC(cur.Name, child)
		s.emit(s.event(StateRunning, cur, nil, nil))
	}
}

// remap moves the tracked entry from oldPID to the new child and bumps the
// restart counter. It reports false when the supervisor is stopping.
func (s *Supervisor) remap(oldPID int, next process.Child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tracked[oldPID]
	if !ok || s.stopping {
		delete(s.tracked, oldPID)
		return false
	}
	delete(s.tracked, oldPID)
	e.PID = next.PID()
	e.StartTime = time.Now()
	e.Restarts++
	e.child = next
	s.tracked[e.PID] = e
	return true
}

func (s *Supervisor) untrack(pid int) {
	s.mu.Lock()
	delete(s.tracked, pid)
	s.mu.Unlock()
}

func (s *Supervisor) event(st State, t Tracked, ex *process.Exit, err error) Event {
	return Event{State: st, Name: t.Name, Script: t.ScriptPath, PID: t.PID, Restarts: t.Restarts, Exit: ex, Err: err}
}

func (s *Supervisor) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (s *Supervisor) watchIPC(name string, c process.Child) {
	mc, ok := c.(*process.ManagedChild)
	if !ok {
		return
	}
	pid := c.PID()
	go func() {
		for msg := range mc.Channel().Messages() {
			s.log.Debug("ipc message", "name", name, "pid", pid, "message", string(msg))
		}
	}()
}

// StopAll force-kills every tracked child's process group and clears the
// table. Pending restart delays are abandoned. The on-disk registry is not
// touched.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	victims := make([]*entry, 0, len(s.tracked))
	for _, e := range s.tracked {
		victims = append(victims, e)
	}
	s.tracked = make(map[int]*entry)
	s.mu.Unlock()

	for _, e := range victims {
		if err := e.child.Kill(); err != nil {
			s.log.Warn("kill failed", "name", e.Name, "pid", e.PID, "error", err)
		}
	}
	if len(victims) > 0 {
		s.log.Info("all targets stopped", "count", len(victims))
	}
}

// DefaultGrace is how long Shutdown waits for children before killing them.
const DefaultGrace = 5 * time.Second

// Shutdown delivers sig to every tracked child's process group so targets can
// clean up, and force-kills whatever is still running after grace. Pending
// restarts are abandoned and no child is respawned. Children that exit
// within grace end in their own classified state.
func (s *Supervisor) Shutdown(sig os.Signal, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	victims := make([]*entry, 0, len(s.tracked))
	for _, e := range s.tracked {
		victims = append(victims, e)
	}
	s.mu.Unlock()

	for _, e := range victims {
		s.log.Info("stopping target", "name", e.Name, "pid", e.PID, "signal", sig.String())
		if err := e.child.Signal(sig); err != nil {
			s.log.Warn("signal failed", "name", e.Name, "pid", e.PID, "error", err)
		}
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, e := range victims {
		select {
		case <-e.child.Done():
			continue
		case <-deadline.C:
		}
		s.log.Warn("grace period expired, killing", "name", e.Name, "pid", e.PID, "grace", grace)
		s.StopAll()
		return
	}
}

// Wait blocks until every supervising goroutine has finished.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Tracked returns the live children ordered by pid.
func (s *Supervisor) Tracked() []Tracked {
	s.mu.Lock()
	out := make([]Tracked, 0, len(s.tracked))
	for _, e := range s.tracked {
		out = append(out, e.Tracked)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (t Tracked) String() string {
	return fmt.Sprintf("%s[%d] restarts=%d", t.Name, t.PID, t.Restarts)
}

func stopped(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// sleepCtx waits d and reports false if interrupted.
func sleepCtx(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
