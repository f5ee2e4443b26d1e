package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	dispatcher "github.com/CorralNAS/dispatcher-client"
	"github.com/CorralNAS/dispatcher-client/internal/eventlog"
)

func newListenCommand(ctx *commandContext) *cobra.Command {
	var record bool
	var recordPath string

	cmd := &cobra.Command{
		Use:   "listen [event-name...]",
		Short: "Subscribe to dispatcher events and print them as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = []string{"*"}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var store *eventlog.Store
			if record {
				path := strings.TrimSpace(recordPath)
				if path == "" {
					path = cfg.Events.RecordPath
				}
				store, err = eventlog.Open(path)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler, events, dropped := bufferEvents(64)
			defer func() {
				if n := dropped.Load(); n > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Dropped %d events while output was stalled\n", n)
				}
			}()
			connErrs := make(chan error, 1)

			client, err := dispatcher.Open(ctx.socketPath(),
				dispatcher.WithLogger(ctx.buildLogger()),
				dispatcher.WithEventHandler(handler),
				dispatcher.WithErrorHandler(func(err error) {
					select {
					case connErrs <- err:
					default:
					}
				}),
			)
			if err != nil {
				return wrapDialError(err, ctx.socketPath())
			}
			defer client.Close()

			if err := client.SubscribeEvents(names...); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			if stdoutIsTerminal() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Listening for %s; press Ctrl-C to stop\n", strings.Join(names, ", "))
			}

			out := cmd.OutOrStdout()
			for {
				select {
				case <-sigCtx.Done():
					return nil
				case err := <-connErrs:
					return err
				case ev := <-events:
					fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), ev.name, ev.args)
					if store != nil {
						if err := store.Append(cmd.Context(), ev.name, ev.args); err != nil {
							return fmt.Errorf("record event: %w", err)
						}
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "Record received events to the event database")
	cmd.Flags().StringVar(&recordPath, "record-path", "", "Event database path (overrides config)")

	return cmd
}

type eventMessage struct {
	name string
	args json.RawMessage
}

// bufferEvents builds the event handler for listen. The handler runs on the
// connection's event-loop goroutine, so it must never block: a blocked
// handler would wedge the loop and with it Conn.Close's loop join. When the
// buffer is full the event is counted as dropped instead.
func bufferEvents(capacity int) (dispatcher.EventHandler, <-chan eventMessage, *atomic.Int64) {
	events := make(chan eventMessage, capacity)
	dropped := &atomic.Int64{}
	handler := func(name string, args json.RawMessage) {
		select {
		case events <- eventMessage{name: name, args: args}:
		default:
			dropped.Add(1)
		}
	}
	return handler, events, dropped
}
