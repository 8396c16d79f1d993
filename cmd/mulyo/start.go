package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/logger"
	"github.com/loykin/mulyo/internal/process"
	"github.com/loykin/mulyo/internal/registry"
	"github.com/loykin/mulyo/internal/supervisor"
)

func createStartCommand(a *app, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <script>",
		Short: "Run a script under supervision",
		Long: `Run a script as a supervised child. A crash (non-zero exit or an
unexpected signal) restarts it after the restart delay; exit code 0 or
termination by SIGTERM/SIGINT ends supervision.

Executable files with a shebang (or native binaries) are launched directly
and get an IPC socket on fd 3. Other files run through an interpreter chosen
by extension (.sh, .py, .js, .rb, .pl).

Examples:
  mulyo start worker.sh
  mulyo start worker.py --delay 250
  mulyo start server.js --detach`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Supervisor()
			if flags.DelayMS > 0 {
				cfg.RestartDelay = time.Duration(flags.DelayMS) * time.Millisecond
			}
			switch {
			case flags.InternalWorker:
				return runWorker(cmd.Context(), a, args[0], cfg, flags)
			case flags.Detach:
				return runDetached(a, args[0], cfg, flags)
			default:
				return runForeground(cmd.Context(), a, args[0], cfg, flags)
			}
		},
	}
	cmd.Flags().BoolVarP(&flags.Detach, "detach", "d", false, "supervise in the background and register the supervisor")
	cmd.Flags().IntVar(&flags.DelayMS, "delay", 0, "restart delay in milliseconds (default from exploration mode)")
	cmd.Flags().DurationVar(&flags.Grace, "grace", supervisor.DefaultGrace, "how long a detached target may take to exit after mulyo stop")
	cmd.Flags().StringVar(&flags.MetricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	cmd.Flags().BoolVar(&flags.InternalWorker, "internal-worker", false, "run as the background supervisor of a detached start")
	_ = cmd.Flags().MarkHidden("internal-worker")
	return cmd
}

func runForeground(ctx context.Context, a *app, script string, cfg supervisor.Config, flags *StartFlags) error {
	ctx, stop := notifyContext(ctx)
	defer stop()
	return supervise(ctx, a, script, cfg, a.listeners(flags.MetricsFile), func(sup *supervisor.Supervisor) {
		a.log.Info("shutting down, stopping children")
		sup.StopAll()
	})
}

// runWorker is the background side of a detached start: a foreground
// supervisor whose registry record follows the target's state. SIGTERM from
// "mulyo stop" is passed on to the target, which gets the grace period to
// exit before it is killed.
func runWorker(ctx context.Context, a *app, script string, cfg supervisor.Config, flags *StartFlags) error {
	ctx, stop := notifyContext(ctx)
	defer stop()

	self := os.Getpid()
	track := func(ev supervisor.Event) {
		// once stopped the record belongs to whoever stopped us
		if ctx.Err() != nil {
			return
		}
		if _, err := a.store.Update(self, func(r *registry.Record) {
			r.Status = ev.State.String()
			r.Restarts = ev.Restarts
			switch {
			case ev.State == supervisor.StateRunning:
				r.TargetPID = ev.PID
			case ev.State.Terminal():
				r.TargetPID = 0
			}
		}); err != nil {
			a.log.Warn("registry update failed", "pid", self, "error", err)
		}
	}
	return supervise(ctx, a, script, cfg, append(a.listeners(flags.MetricsFile), track), func(sup *supervisor.Supervisor) {
		a.log.Info("shutting down, forwarding SIGTERM to children", "grace", flags.Grace)
		sup.Shutdown(syscall.SIGTERM, flags.Grace)
	})
}

func notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// supervise runs script until supervision ends on its own or ctx is
// cancelled, in which case shutdown is called and awaited.
func supervise(ctx context.Context, a *app, script string, cfg supervisor.Config, ls []supervisor.Listener, shutdown func(*supervisor.Supervisor)) error {
	sup := supervisor.New(supervisor.Options{
		Logger:    a.log,
		Stdout:    a.out,
		Stderr:    a.errOut,
		Sanitizer: euphemize,
		Listeners: ls,
	})
	if _, err := sup.Start(context.Background(), script, cfg); err != nil {
		reportStartError(a, script, err)
		return nil
	}

	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		shutdown(sup)
		<-done
	}
	return nil
}

func runDetached(a *app, script string, cfg supervisor.Config, flags *StartFlags) error {
	abs, err := process.Resolve(script)
	if err != nil {
		reportStartError(a, script, err)
		return nil
	}
	name := filepath.Base(abs)
	paths, err := logger.Resolve(a.cfg.LogsDir(), name)
	if err != nil {
		a.printf("cannot prepare logs: %v\n", err)
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		a.printf("cannot locate mulyo executable: %v\n", err)
		return nil
	}

	args := []string{
		"start", abs, "--internal-worker",
		"--delay", strconv.FormatInt(cfg.Delay().Milliseconds(), 10),
		"--grace", flags.Grace.String(),
	}
	if a.flags.ConfigPath != "" {
		if p, err := filepath.Abs(a.flags.ConfigPath); err == nil {
			args = append(args, "--config", p)
		}
	}
	if flags.MetricsFile != "" {
		args = append(args, "--metrics-file", flags.MetricsFile)
	}
	pid, err := process.SpawnDetached(process.DetachedSpec{
		Exe:      exe,
		Args:     args,
		Logs:     paths,
		Priority: cfg.Priority,
		Logger:   a.log,
	})
	if err != nil {
		reportStartError(a, script, err)
		return nil
	}
	if err := a.store.Add(registry.Record{
		PID:  pid,
		Name: name,
		Args: []string{abs},
		Mode: registry.ModeDetached,
	}); err != nil {
		a.printf("started %s (pid %d) but could not register it: %v\n", name, pid, err)
		return nil
	}
	a.printf("%s is running in the background (pid %d)\n  stdout: %s\n  stderr: %s\n", name, pid, paths.Out, paths.Err)
	return nil
}

func reportStartError(a *app, script string, err error) {
	var se *process.SpawnError
	switch {
	case errors.Is(err, process.ErrScriptNotFound):
		a.printf("script not found: %s\n", script)
	case errors.As(err, &se):
		a.printf("could not launch %s: %v\n", script, se.Err)
	default:
		a.printf("could not start %s: %v\n", script, err)
	}
}
