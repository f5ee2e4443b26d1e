package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CorralNAS/dispatcher-client/internal/eventlog"
)

type eventView struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		name       string
		limit      int
		recordPath string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show events recorded by listen --record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := recordPath
			if path == "" {
				path = cfg.Events.RecordPath
			}

			store, err := eventlog.OpenReadOnly(path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), name, limit)
			if err != nil {
				return err
			}

			if jsonOut {
				views := make([]eventView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, eventView{
						ID:         entry.ID,
						Name:       entry.Name,
						Args:       entry.Args,
						ReceivedAt: entry.ReceivedAt,
					})
				}
				return writeJSON(cmd, views)
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded events")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					fmt.Sprintf("%d", entry.ID),
					entry.ReceivedAt.Local().Format(time.RFC3339),
					entry.Name,
					truncate(string(entry.Args), 72),
				})
			}
			headers := []string{"ID", "Received", "Event", "Args"}
			aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Only show events with this name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to show")
	cmd.Flags().StringVar(&recordPath, "record-path", "", "Event database path (overrides config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")

	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
