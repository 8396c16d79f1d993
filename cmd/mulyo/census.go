package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/registry"
)

func createCensusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "census",
		Aliases: []string{"sensus", "list"},
		Short:   "List live background processes",
		Long: `List registered background processes that are still alive. Entries whose
process has died are removed from the registry as a side effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := registry.Census(a.store, a.prober, time.Now())
			if err != nil {
				a.printf("cannot read registry: %v\n", err)
				return nil
			}
			if len(live) == 0 {
				a.printf("no supervised processes\n")
				return nil
			}
			table := tablewriter.NewWriter(a.out)
			table.Header("PID", "Name", "Mode", "Status", "Restarts", "Uptime", "Loyalty")
			for _, l := range live {
				table.Append(
					strconv.Itoa(l.PID),
					l.Name,
					string(l.Mode),
					l.Status,
					strconv.Itoa(l.Restarts),
					formatUptime(l.Uptime),
					l.Loyalty,
				)
			}
			table.Render()
			a.printf("\nTotal: %d\n", len(live))
			return nil
		},
	}
}

// formatUptime renders d as e.g. "3d 4h", "2h 5m", "1m 30s" or "12s".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	h := int(d/time.Hour) % 24
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
