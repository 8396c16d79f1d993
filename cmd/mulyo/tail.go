package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/logger"
	"github.com/loykin/mulyo/internal/watch"
)

func createTailCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "tail <pid>",
		Aliases: []string{"sadap"},
		Short:   "Follow the logs of a background process",
		Long: `Print output appended to a background process's stdout and stderr logs
until interrupted with Ctrl-C. Earlier output is not replayed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.New("invalid pid " + strconv.Quote(args[0]))
			}
			rec, ok, err := a.store.Find(pid)
			if err != nil {
				a.printf("cannot read registry: %v\n", err)
				return nil
			}
			if !ok {
				a.printf("pid %d is not in the registry\n", pid)
				return nil
			}
			paths, err := logger.Resolve(a.cfg.LogsDir(), rec.Name)
			if err != nil {
				a.printf("cannot locate logs: %v\n", err)
				return nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.printf("following %s (pid %d), Ctrl-C to stop\n", rec.Name, pid)
			t := &watch.Tailer{PollInterval: a.cfg.Tail.PollInterval, Logger: a.log}
			if err := t.Run(ctx, a.out, paths.Out, paths.Err); err != nil {
				a.printf("nothing to follow: %v\n", err)
			}
			return nil
		},
	}
}
