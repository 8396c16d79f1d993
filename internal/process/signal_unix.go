//go:build !windows

package process

import (
	"errors"
	"log/slog"
	"syscall"

	"golang.org/x/sys/unix"
)

// killGroup signals the process group led by pid, falling back to pid alone
// when the group is gone.
func killGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if err2 := syscall.Kill(pid, sig); err2 != nil {
		if errors.Is(err2, syscall.ESRCH) {
			return nil
		}
		return err2
	}
	return nil
}

// applyPriority is a best-effort scheduling hint. Lack of privilege is normal.
func applyPriority(pid int, p Priority, log *slog.Logger) {
	if p != PriorityHigh {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, niceHigh); err != nil {
		log.Debug("priority hint ignored", "pid", pid, "error", err)
	}
}
