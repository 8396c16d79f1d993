package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/mulyo/internal/process"
)

func fastConfig() Config {
	return Config{RestartDelay: 50 * time.Millisecond}
}

func TestCrashingTargetIsRestarted(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	rec := &recorder{}
	s := New(Options{Stdout: &out, Listeners: []Listener{rec.listen}})

	pid, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "echo started; exit 1"), fastConfig())
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	waitUntil(t, 10*time.Second, func() bool {
		return strings.Count(out.String(), "started") >= 3
	}, "at least three starts")
	s.StopAll()
	waitReturns(t, s, 5*time.Second)

	last := -1
	pids := map[int]bool{}
	for _, e := range rec.events() {
		if e.State != StateRunning {
			continue
		}
		assert.Greater(t, e.Restarts, last, "restart counter must increase")
		last = e.Restarts
		pids[e.PID] = true
	}
	assert.GreaterOrEqual(t, last, 2)
	assert.GreaterOrEqual(t, len(pids), 3, "each respawn gets a new pid")
	assert.Equal(t, StateStopped, rec.last().State)
	assert.Empty(t, s.Tracked())
}

func TestTrackedFollowsRespawn(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	first, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "sleep 0.1; exit 2"), fastConfig())
	require.NoError(t, err)
	defer func() { s.StopAll(); s.Wait() }()

	waitUntil(t, 5*time.Second, func() bool {
		tr := s.Tracked()
		return len(tr) == 1 && tr[0].PID != first && tr[0].Restarts >= 1
	}, "tracked entry remapped to new pid")
	tr := s.Tracked()[0]
	assert.Equal(t, "crashy.sh", tr.Name)
	assert.True(t, strings.HasSuffix(tr.ScriptPath, "crashy.sh"))
}

func TestGracefulSignalIsNotRestarted(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	pid, err := s.Start(context.Background(), writeScript(t, "svc.sh", "exec sleep 30"), fastConfig())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, syscall.Kill(pid, syscall.SIGTERM))
	waitReturns(t, s, 5*time.Second)

	last := rec.last()
	assert.Equal(t, StateExitedSignal, last.State)
	require.NotNil(t, last.Exit)
	assert.Equal(t, syscall.SIGTERM, last.Exit.Signal)
	assert.Equal(t, 0, rec.count(StateRestarting))
	assert.Empty(t, s.Tracked())
}

func TestTrappedTerminationExitsClean(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	rec := &recorder{}
	s := New(Options{Stdout: &out, Listeners: []Listener{rec.listen}})
	script := writeScript(t, "dummy.sh", `trap 'echo cleanup; sleep 0.2; exit 0' TERM
echo ready
while :; do sleep 0.1; done`)
	pid, err := s.Start(context.Background(), script, fastConfig())
	require.NoError(t, err)

	waitUntil(t, 5*time.Second, func() bool { return strings.Contains(out.String(), "ready") }, "fixture ready")
	require.NoError(t, syscall.Kill(pid, syscall.SIGTERM))
	waitReturns(t, s, 5*time.Second)

	assert.Equal(t, StateExitedClean, rec.last().State)
	assert.Contains(t, out.String(), "cleanup")
	assert.Equal(t, 1, strings.Count(out.String(), "ready"), "no restart after graceful shutdown")
}

func TestCleanExitEndsSupervision(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	_, err := s.Start(context.Background(), writeScript(t, "once.sh", "exit 0"), fastConfig())
	require.NoError(t, err)
	waitReturns(t, s, 5*time.Second)

	states := []State{}
	for _, e := range rec.events() {
		states = append(states, e.State)
	}
	assert.Equal(t, []State{StateStarting, StateRunning, StateExitedClean}, states)
	assert.Empty(t, s.Tracked())
}

func TestStopAllAbortsPendingRestart(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 1"), Config{RestartDelay: time.Minute})
	require.NoError(t, err)

	waitUntil(t, 5*time.Second, func() bool { return rec.count(StateRestarting) == 1 }, "restart scheduled")
	start := time.Now()
	s.StopAll()
	waitReturns(t, s, 5*time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateStopped, rec.last().State)
	assert.Equal(t, 1, rec.count(StateRunning))
}

func TestStopAllKillsRunningChildren(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	for _, name := range []string{"a.sh", "b.sh"} {
		_, err := s.Start(context.Background(), writeScript(t, name, "sleep 30 & wait"), fastConfig())
		require.NoError(t, err)
	}
	require.Len(t, s.Tracked(), 2)

	s.StopAll()
	assert.Empty(t, s.Tracked(), "table cleared immediately")
	waitReturns(t, s, 5*time.Second)
	assert.Equal(t, 2, rec.count(StateStopped))
	assert.Equal(t, 0, rec.count(StateRestarting))
}

func TestStartAfterStopAll(t *testing.T) {
	requireUnix(t)
	s := New(Options{})
	s.StopAll()
	rec := &recorder{}
	s.Subscribe(rec.listen)
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 1"), fastConfig())
	require.NoError(t, err)
	waitUntil(t, 5*time.Second, func() bool { return rec.count(StateRunning) >= 2 }, "restarts resume in a new generation")
	s.StopAll()
	waitReturns(t, s, 5*time.Second)
}

func TestMaxRestarts(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	cfg := Config{RestartDelay: 10 * time.Millisecond, MaxRestarts: 2}
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 4"), cfg)
	require.NoError(t, err)
	waitReturns(t, s, 10*time.Second)

	last := rec.last()
	assert.Equal(t, StateFailed, last.State)
	assert.ErrorIs(t, last.Err, ErrRestartLimit)
	assert.Equal(t, 2, last.Restarts)
	assert.Equal(t, 3, rec.count(StateRunning))
}

func TestScriptNotFound(t *testing.T) {
	s := New(Options{})
	_, err := s.Start(context.Background(), "/definitely/not/here.sh", fastConfig())
	assert.ErrorIs(t, err, process.ErrScriptNotFound)
	assert.Empty(t, s.Tracked())
}

func TestSpawnFailureIsNotRetried(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	var calls atomic.Int32
	s.spawn = func(process.Spec) (process.Child, error) {
		calls.Add(1)
		return nil, &process.SpawnError{Path: "x", Err: errors.New("refused")}
	}
	_, err := s.Start(context.Background(), writeScript(t, "ok.sh", "exit 0"), fastConfig())
	var se *process.SpawnError
	require.ErrorAs(t, err, &se)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, StateFailed, rec.last().State)
}

func TestRespawnFailureEndsInFailed(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	var calls atomic.Int32
	s.spawn = func(spec process.Spec) (process.Child, error) {
		if calls.Add(1) > 1 {
			return nil, &process.SpawnError{Path: spec.ScriptPath, Err: errors.New("gone")}
		}
		return process.Spawn(spec)
	}
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 1"), fastConfig())
	require.NoError(t, err)
	waitReturns(t, s, 5*time.Second)

	last := rec.last()
	assert.Equal(t, StateFailed, last.State)
	var se *process.SpawnError
	assert.ErrorAs(t, last.Err, &se)
	assert.Empty(t, s.Tracked())
}

func TestContextCancelStopsTarget(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Start(ctx, writeScript(t, "svc.sh", "exec sleep 30"), fastConfig())
	require.NoError(t, err)
	cancel()
	waitReturns(t, s, 5*time.Second)
	assert.Equal(t, StateStopped, rec.last().State)
	assert.ErrorIs(t, rec.last().Err, context.Canceled)
}

func TestRestartsRepeatedlyWithinTwoSeconds(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 1"), Config{RestartDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	defer func() { s.StopAll(); s.Wait() }()

	waitUntil(t, 2*time.Second, func() bool { return rec.count(StateRunning) >= 2 }, "two starts within 2s")
}

func TestGracefulCleanupIsUntrackedPromptly(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	rec := &recorder{}
	s := New(Options{Stdout: &out, Listeners: []Listener{rec.listen}})
	script := writeScript(t, "dummy.sh", `trap 'sleep 0.5; echo cleaned; exit 0' TERM
echo ready
while :; do sleep 0.05 & wait $!; done`)
	pid, err := s.Start(context.Background(), script, fastConfig())
	require.NoError(t, err)
	defer func() { s.StopAll(); s.Wait() }()

	waitUntil(t, 5*time.Second, func() bool { return strings.Contains(out.String(), "ready") }, "fixture ready")
	sent := time.Now()
	require.NoError(t, syscall.Kill(pid, syscall.SIGTERM))
	waitUntil(t, 600*time.Millisecond, func() bool { return len(s.Tracked()) == 0 }, "untracked within 600ms of SIGTERM")

	assert.GreaterOrEqual(t, time.Since(sent), 450*time.Millisecond, "cleanup ran before the exit")
	waitReturns(t, s, 2*time.Second)
	assert.Contains(t, out.String(), "cleaned")
	assert.Equal(t, StateExitedClean, rec.last().State)
	assert.Zero(t, rec.count(StateRestarting))
}

func TestShutdownLetsTargetCleanUp(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	rec := &recorder{}
	s := New(Options{Stdout: &out, Listeners: []Listener{rec.listen}})
	script := writeScript(t, "dummy.sh", `trap 'echo cleanup-ran; exit 0' TERM
echo ready
while :; do sleep 0.1; done`)
	_, err := s.Start(context.Background(), script, fastConfig())
	require.NoError(t, err)
	waitUntil(t, 5*time.Second, func() bool { return strings.Contains(out.String(), "ready") }, "fixture ready")

	start := time.Now()
	s.Shutdown(syscall.SIGTERM, 5*time.Second)
	waitReturns(t, s, 5*time.Second)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, out.String(), "cleanup-ran")
	assert.Equal(t, StateExitedClean, rec.last().State)
	assert.Zero(t, rec.count(StateRestarting))
	assert.Empty(t, s.Tracked())
}

func TestShutdownKillsAfterGrace(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	rec := &recorder{}
	s := New(Options{Stdout: &out, Listeners: []Listener{rec.listen}})
	script := writeScript(t, "stubborn.sh", `trap '' TERM
echo ready
while :; do sleep 0.1; done`)
	_, err := s.Start(context.Background(), script, fastConfig())
	require.NoError(t, err)
	waitUntil(t, 5*time.Second, func() bool { return strings.Contains(out.String(), "ready") }, "fixture ready")

	start := time.Now()
	s.Shutdown(syscall.SIGTERM, 200*time.Millisecond)
	waitReturns(t, s, 5*time.Second)

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	last := rec.last()
	assert.Equal(t, StateStopped, last.State)
	require.NotNil(t, last.Exit)
	assert.Equal(t, syscall.SIGKILL, last.Exit.Signal)
	assert.Zero(t, rec.count(StateRestarting))
}

func TestShutdownAbortsPendingRestart(t *testing.T) {
	requireUnix(t)
	rec := &recorder{}
	s := New(Options{Listeners: []Listener{rec.listen}})
	_, err := s.Start(context.Background(), writeScript(t, "crashy.sh", "exit 1"), Config{RestartDelay: time.Minute})
	require.NoError(t, err)
	waitUntil(t, 5*time.Second, func() bool { return rec.count(StateRestarting) == 1 }, "restart scheduled")

	s.Shutdown(syscall.SIGTERM, time.Second)
	waitReturns(t, s, 5*time.Second)
	assert.Equal(t, StateStopped, rec.last().State)
	assert.Equal(t, 1, rec.count(StateRunning))
}
