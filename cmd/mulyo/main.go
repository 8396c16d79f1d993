package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Detach         bool
	DelayMS        int
	Grace          time.Duration
	MetricsFile    string
	InternalWorker bool
}

// buildRoot wires every subcommand around one lazily initialised app.
func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	a := &app{out: stdout, errOut: stderr, flags: globalFlags}

	root := createRootCommand(a, globalFlags)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		createStartCommand(a, &StartFlags{}),
		createCensusCommand(a),
		createStopCommand(a),
		createTailCommand(a),
		createWatchCommand(a),
		createInitCommand(a),
		createHistoryCommand(a),
	)
	return root
}

func createRootCommand(a *app, flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mulyo",
		Short: "Supervise scripts, restart them when they crash",
		Long: `mulyo runs a script as a supervised child, restarts it after every crash
and keeps a registry of background (detached) children so later invocations
can list, follow and stop them.

Examples:
  mulyo start app.sh                # supervise in the foreground
  mulyo start app.sh --detach       # supervise in the background
  mulyo census                      # list live background processes
  mulyo tail 12345                  # follow a background process's logs
  mulyo stop 12345                  # terminate a background process`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default ./mulyo.toml)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	return root
}
