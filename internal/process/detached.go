package process

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/loykin/mulyo/internal/logger"
)

// DetachedSpec describes a background launch whose output goes to log files.
type DetachedSpec struct {
	Exe      string
	Args     []string
	Dir      string
	Env      []string // nil inherits the current environment
	Logs     logger.Paths
	Priority Priority
	Logger   *slog.Logger
}

// SpawnDetached starts a process in its own session with stdout and stderr
// appended to the log files, then releases it. The returned pid is not
// waited on.
func SpawnDetached(s DetachedSpec) (int, error) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	out, errf, err := s.Logs.OpenAppend()
	if err != nil {
		return 0, &SpawnError{Path: s.Exe, Err: err}
	}
	defer func() {
		_ = out.Close()
		_ = errf.Close()
	}()
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, &SpawnError{Path: s.Exe, Err: err}
	}
	defer func() { _ = devnull.Close() }()

	// #nosec G204 -- re-executing ourselves or the user's target
	cmd := exec.Command(s.Exe, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.Stdin = devnull
	cmd.Stdout = out
	cmd.Stderr = errf
	configureSysProcAttr(cmd, true)

	if err := cmd.Start(); err != nil {
		return 0, &SpawnError{Path: s.Exe, Err: err}
	}
	pid := cmd.Process.Pid
	applyPriority(pid, s.Priority, log)
	if err := cmd.Process.Release(); err != nil {
		log.Debug("release detached process", "pid", pid, "error", err)
	}
	log.Info("detached process started", "pid", pid, "exe", s.Exe, "stdout", s.Logs.Out, "stderr", s.Logs.Err)
	return pid, nil
}
