//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts detached children in a new session (setsid) so
// they survive the launching terminal. Foreground children get their own
// process group for group signalling.
func configureSysProcAttr(cmd *exec.Cmd, detached bool) {
	attrs := &syscall.SysProcAttr{}
	if detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
