package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/metrics"
	"github.com/loykin/mulyo/internal/watch"
)

func createWatchCommand(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:     "watch [pid...]",
		Aliases: []string{"sidak"},
		Short:   "Live dashboard of background processes",
		Long: `Redraw a table of registered background processes with liveness, uptime,
CPU and memory every interval until interrupted with Ctrl-C. This command
blocks; it does not remove dead entries (use census for that).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pids := make([]int, 0, len(args))
			for _, s := range args {
				pid, err := strconv.Atoi(s)
				if err != nil {
					return fmt.Errorf("invalid pid %q", s)
				}
				pids = append(pids, pid)
			}
			if interval <= 0 {
				interval = a.cfg.Dashboard.Interval
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := &watch.Dashboard{
				Interval: interval,
				Source:   a.store.Load,
				Prober:   a.prober,
				Sampler:  metrics.NewSampler(),
				PIDs:     pids,
				Logger:   a.log,
				Render:   func(s watch.Snapshot) { renderDashboard(a, s) },
			}
			if err := d.Run(ctx); err != nil {
				a.printf("dashboard stopped: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default from config, 2s)")
	return cmd
}

func renderDashboard(a *app, s watch.Snapshot) {
	if f, ok := a.out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		a.printf("\033[H\033[2J")
	}
	a.printf("mulyo dashboard  %s\n\n", s.At.Format("15:04:05"))
	if len(s.Entries) == 0 {
		a.printf("no supervised processes\n")
		return
	}
	table := tablewriter.NewWriter(a.out)
	table.Header("PID", "Target", "Name", "Alive", "Status", "Restarts", "Uptime", "CPU", "Memory")
	for _, e := range s.Entries {
		alive, target := "no", "-"
		if e.TargetPID > 0 {
			target = strconv.Itoa(e.TargetPID)
		}
		uptime, cpu, mem := "-", "-", "-"
		if e.Alive {
			alive = "yes"
			uptime = formatUptime(e.Uptime)
			cpu = fmt.Sprintf("%.1f%%", e.CPUPercent)
			mem = fmt.Sprintf("%.1f MB", e.MemoryMB)
		}
		table.Append(strconv.Itoa(e.PID), target, e.Name, alive, e.Status, strconv.Itoa(e.Restarts), uptime, cpu, mem)
	}
	table.Render()
}
