// Package transport implements the Unix domain socket transport underneath
// the dispatcher client.
//
// A Conn owns a raw stream-socket descriptor and a dedicated event-loop
// goroutine that multiplexes readiness through epoll, decodes one frame per
// readiness event, and hands complete payloads to the registered message
// handler. Sends run synchronously on the caller's goroutine and carry the
// process credentials as ancillary data so the daemon can authenticate the
// peer at the kernel level.
//
// Frames are opaque byte buffers at this layer. RPC envelope semantics live
// in the dispatcher package above.
package transport
