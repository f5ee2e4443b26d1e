// Package main hosts the dispatcherctl CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into RPC calls
// against the dispatcher daemon: method invocation (including streaming
// responses), event subscription and emission, recorded-event inspection, and
// configuration display. It centralizes configuration resolution, socket
// discovery, and structured logging setup so subcommands can focus on user
// experience instead of wiring.
package main
