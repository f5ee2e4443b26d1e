package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	dispatcher "github.com/CorralNAS/dispatcher-client"
)

func newCallCommand(ctx *commandContext) *cobra.Command {
	var (
		loginUser string
		password  string
		resource  string
		service   string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "call <method> [args-json]",
		Short: "Invoke an RPC method on the dispatcher daemon",
		Long: `Invoke an RPC method on the dispatcher daemon.

The optional second argument is a JSON array of positional call arguments,
for example: dispatcherctl call volume.query '[[["name", "=", "tank"]]]'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]
			var callArgs any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
					return fmt.Errorf("parse call args: %w", err)
				}
			}

			return ctx.withClient(func(client *dispatcher.Client) error {
				callCtx, cancel := context.WithTimeout(cmd.Context(), ctx.callTimeout())
				defer cancel()

				if err := authenticate(callCtx, client, loginUser, password, resource, service); err != nil {
					return err
				}

				if stream {
					return streamCall(callCtx, cmd, client, method, callArgs)
				}

				result, err := client.Call(callCtx, method, callArgs)
				if err != nil {
					return err
				}
				return printResult(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&loginUser, "login-user", "", "Authenticate as this user before calling")
	cmd.Flags().StringVar(&password, "password", "", "Password for --login-user")
	cmd.Flags().StringVar(&resource, "resource", "dispatcherctl", "Resource name reported during user login")
	cmd.Flags().StringVar(&service, "service", "", "Authenticate as this service before calling")
	cmd.Flags().BoolVar(&stream, "stream", false, "Request a streaming response and print each fragment")

	return cmd
}

func authenticate(ctx context.Context, client *dispatcher.Client, user, password, resource, service string) error {
	switch {
	case service != "":
		if err := client.LoginService(ctx, service); err != nil {
			return fmt.Errorf("service login: %w", err)
		}
	case user != "":
		if err := client.LoginUser(ctx, user, password, resource); err != nil {
			return fmt.Errorf("user login: %w", err)
		}
	}
	return nil
}

// streamCall negotiates streaming responses and pulls fragments until the
// daemon signals the end of the stream.
func streamCall(ctx context.Context, cmd *cobra.Command, client *dispatcher.Client, method string, args any) error {
	if _, err := client.Call(ctx, "management.enable_features", []any{[]string{"streaming_responses"}}); err != nil {
		// Daemons without feature negotiation reject the call but still
		// answer regular calls, so only transport failures are fatal here.
		var rpcErr *dispatcher.RPCError
		if !errors.As(err, &rpcErr) {
			return fmt.Errorf("enable streaming: %w", err)
		}
	}

	call, err := client.CallAsync(method, args, nil)
	if err != nil {
		return err
	}
	if err := call.Wait(ctx); err != nil {
		return err
	}

	for {
		if err := call.Err(); err != nil {
			return err
		}
		switch call.Status() {
		case dispatcher.StatusDone:
			result := call.Result()
			if len(result) > 0 && string(result) != "null" {
				return printResult(cmd, result)
			}
			return nil
		case dispatcher.StatusMoreAvailable:
			if err := printResult(cmd, call.Result()); err != nil {
				return err
			}
			if err := call.Continue(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected call status %v", call.Status())
		}
	}
}

func printResult(cmd *cobra.Command, result json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return nil
	}
	return writeJSON(cmd, decoded)
}
