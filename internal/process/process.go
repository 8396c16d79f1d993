package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/mulyo/internal/env"
)

// waitDelay bounds how long Wait keeps draining stdio after the child exits,
// in case a grandchild inherited the pipes.
const waitDelay = 2 * time.Second

// Exit describes how a child terminated.
type Exit struct {
	Code   int            // exit code, -1 when terminated by a signal
	Signal syscall.Signal // zero unless terminated by a signal
	Err    error          // wait failure unrelated to the exit status
}

// Signaled reports whether the child was terminated by a signal.
func (e Exit) Signaled() bool { return e.Signal != 0 }

func (e Exit) String() string {
	switch {
	case e.Signaled():
		return "signal " + e.Signal.String()
	case e.Err != nil && e.Code < 0:
		return "wait error: " + e.Err.Error()
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

// Child is a running supervised process.
type Child interface {
	PID() int
	Variant() Variant
	// Wait blocks until the child exits. It may be called more than once.
	Wait() Exit
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	// Signal delivers sig to the child's process group.
	Signal(sig os.Signal) error
	// Kill force-kills the child's whole process group.
	Kill() error
}

type base struct {
	cmd     *exec.Cmd
	variant Variant
	done    chan struct{}
	exit    Exit
}

func (b *base) PID() int              { return b.cmd.Process.Pid }
func (b *base) Variant() Variant      { return b.variant }
func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Signal(sig os.Signal) error {
	select {
	case <-b.done:
		return nil
	default:
	}
	if ss, ok := sig.(syscall.Signal); ok {
		return killGroup(b.PID(), ss)
	}
	return b.cmd.Process.Signal(sig)
}

func (b *base) Wait() Exit {
	<-b.done
	return b.exit
}

func (b *base) Kill() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	return killGroup(b.PID(), syscall.SIGKILL)
}

// ManagedChild is a directly executed target with an IPC channel on fd 3.
type ManagedChild struct {
	base
	ipc *Channel
}

// Channel returns the IPC channel shared with the child.
func (m *ManagedChild) Channel() *Channel { return m.ipc }

// ExternalChild is a target launched through an interpreter.
type ExternalChild struct {
	base
	Interpreter []string
}

// Spawn launches spec. Launch failures are returned as *SpawnError.
func Spawn(spec Spec) (Child, error) {
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	variant := ChooseVariant(spec.ScriptPath)

	var cmd *exec.Cmd
	var interp []string
	if variant == Managed {
		// #nosec G204 -- launching the user's target is the purpose of this tool
		cmd = exec.Command(spec.ScriptPath, spec.Args...)
	} else {
		interp = Interpreter(spec.ScriptPath)
		argv := append(append(append([]string{}, interp[1:]...), spec.ScriptPath), spec.Args...)
		// #nosec G204
		cmd = exec.Command(interp[0], argv...)
	}

	overlay := env.Var{}
	for k, v := range spec.ExtraEnv {
		overlay[k] = v
	}
	e := env.New()
	for k, v := range spec.Config.Env {
		e.Set(k, v)
	}

	var ipc *Channel
	var childEnd *os.File
	if variant == Managed {
		var err error
		ipc, childEnd, err = newChannelPair(log)
		if err != nil {
			return nil, &SpawnError{Path: spec.ScriptPath, Err: err}
		}
		cmd.ExtraFiles = []*os.File{childEnd}
		overlay[IPCEnvVar] = "3"
	}
	cmd.Env = e.ForChild(overlay, spec.Config.MaxMemoryMB)
	configureSysProcAttr(cmd, false)
	cmd.WaitDelay = waitDelay

	cmd.Stdout = spec.Stdout
	var errSink *lineWriter
	if spec.Stderr != nil {
		if !spec.Config.ShowErrors && spec.Sanitizer != nil {
			errSink = newLineWriter(spec.Stderr, spec.Sanitizer)
			cmd.Stderr = errSink
		} else {
			cmd.Stderr = spec.Stderr
		}
	}

	if err := cmd.Start(); err != nil {
		if ipc != nil {
			_ = ipc.Close()
			_ = childEnd.Close()
		}
		return nil, &SpawnError{Path: spec.ScriptPath, Err: err}
	}
	if childEnd != nil {
		_ = childEnd.Close()
	}
	applyPriority(cmd.Process.Pid, spec.Config.Priority, log)

	b := base{cmd: cmd, variant: variant, done: make(chan struct{})}
	var c Child
	var bp *base
	if variant == Managed {
		mc := &ManagedChild{base: b, ipc: ipc}
		c, bp = mc, &mc.base
		ipc.start()
	} else {
		ec := &ExternalChild{base: b, Interpreter: interp}
		c, bp = ec, &ec.base
	}

	go func() {
		err := cmd.Wait()
		if errSink != nil {
			errSink.Flush()
		}
		if ipc != nil {
			_ = ipc.Close()
		}
		bp.exit = exitFrom(cmd, err)
		close(bp.done)
	}()

	log.Debug("child spawned", "name", spec.Name, "pid", cmd.Process.Pid, "variant", variant.String())
	return c, nil
}

// exitFrom classifies using ProcessState; err is only consulted when the
// state is missing.
func exitFrom(cmd *exec.Cmd, err error) Exit {
	ps := cmd.ProcessState
	if ps == nil {
		return Exit{Code: -1, Err: err}
	}
	ex := Exit{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		ex.Signal = ws.Signal()
		ex.Code = -1
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) && !errors.Is(err, exec.ErrWaitDelay) {
		ex.Err = err
	}
	return ex
}
