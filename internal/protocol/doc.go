// Package protocol implements the dispatcher wire framing.
//
// Every message on the wire is a frame: a fixed 8-byte header carrying a
// magic sentinel and the payload length, followed by that many bytes of
// opaque payload. The codec never interprets payload contents; JSON envelope
// handling lives in the dispatcher package above it.
package protocol
