package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	dispatcher "github.com/CorralNAS/dispatcher-client"
)

func newEmitCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <event-name> [args-json]",
		Short: "Publish an event through the dispatcher daemon",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var eventArgs any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &eventArgs); err != nil {
					return fmt.Errorf("parse event args: %w", err)
				}
			}

			return ctx.withClient(func(client *dispatcher.Client) error {
				if err := client.EmitEvent(name, eventArgs); err != nil {
					return fmt.Errorf("emit event: %w", err)
				}
				return nil
			})
		},
	}

	return cmd
}
