package main

import (
	"context"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/history"
	"github.com/loykin/mulyo/internal/history/sqlite"
)

func createHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent supervision events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.History.Enabled {
				a.printf("history is disabled in the configuration\n")
				return nil
			}
			sink, err := sqlite.New(a.cfg.HistoryPath())
			if err != nil {
				a.printf("cannot open history: %v\n", err)
				return nil
			}
			defer func() { _ = sink.Close() }()

			printHistory(cmd.Context(), a, sink, limit)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")
	return cmd
}

func printHistory(ctx context.Context, a *app, r history.Reader, limit int) {
	events, err := r.Recent(ctx, limit)
	if err != nil {
		a.printf("cannot read history: %v\n", err)
		return
	}
	if len(events) == 0 {
		a.printf("no events recorded\n")
		return
	}
	table := tablewriter.NewWriter(a.out)
	table.Header("Time", "Name", "PID", "State", "Restarts", "Detail")
	for _, e := range events {
		table.Append(
			e.OccurredAt.Local().Format("2006-01-02 15:04:05"),
			e.Name,
			strconv.Itoa(e.PID),
			e.State,
			strconv.Itoa(e.Restarts),
			e.Detail,
		)
	}
	table.Render()
}
