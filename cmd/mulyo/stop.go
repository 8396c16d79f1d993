package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/registry"
)

func createStopCommand(a *app) *cobra.Command {
	var ceremony time.Duration
	cmd := &cobra.Command{
		Use:     "stop <pid>",
		Aliases: []string{"lengser"},
		Short:   "Terminate a background process",
		Long: `Send SIGTERM to a registered background process and remove it from the
registry. The background supervisor forwards SIGTERM to its script's process
group and kills the script if it has not exited within the --grace given to
start (default 5s).

Examples:
  mulyo stop 12345
  mulyo stop 12345 --ceremony 2s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			if ceremony > 0 {
				a.printf("preparing farewell for %d...\n", pid)
			}
			rec, err := registry.Terminate(cmd.Context(), a.store, a.prober, pid, registry.TerminateOptions{Ceremony: ceremony})
			var te *registry.TerminationError
			switch {
			case err == nil:
				a.printf("%s (pid %d) stopped\n", rec.Name, pid)
			case errors.Is(err, registry.ErrTargetMissing):
				a.printf("pid %d is not in the registry\n", pid)
			case errors.Is(err, registry.ErrTargetGone):
				a.printf("pid %d had already exited; entry removed\n", pid)
			case errors.As(err, &te):
				a.printf("could not stop pid %d: %v\n", pid, te.Err)
			default:
				a.printf("could not stop pid %d: %v\n", pid, err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&ceremony, "ceremony", 0, "wait this long before sending SIGTERM")
	return cmd
}
