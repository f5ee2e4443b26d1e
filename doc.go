// Package dispatcher implements the client side of the dispatcher daemon
// RPC protocol.
//
// A Client owns one framed Unix domain socket connection to the daemon and
// multiplexes RPC calls, streaming responses, and server-pushed events over
// it. Frames carry JSON envelopes of the form
//
//	{"namespace": "rpc"|"events", "name": ..., "id": <uuid|null>, "args": ...}
//
// Synchronous calls block the caller until the daemon answers; asynchronous
// calls and incoming events are delivered on the connection's event-loop
// goroutine. Streaming responses arrive as fragments that the caller pulls
// with Call.Continue until the daemon signals the end of the stream.
package dispatcher
