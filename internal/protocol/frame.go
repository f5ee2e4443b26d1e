package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the sentinel that opens every frame header on the wire. It must
// match what the dispatcher daemon writes; once a header arrives with
// anything else the stream cannot be resynchronized.
const Magic uint32 = 0xdeadbeef

// HeaderSize is the fixed size of a frame header: magic plus payload length.
const HeaderSize = 8

// ErrRead reports a short or failed read while decoding a frame.
var ErrRead = errors.New("protocol: frame read failed")

// FramingError reports a frame header whose magic does not match Magic.
type FramingError struct {
	Magic uint32
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("protocol: bad frame magic 0x%08x", e.Magic)
}

// Header encodes a frame header for a payload of the given length. Header
// fields travel in host byte order; the daemon runs on the same machine, and
// every platform it supports is little-endian.
func Header(length uint32) [HeaderSize]byte {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], length)
	return hdr
}

// EncodeFrame prepends a frame header to payload and returns the complete
// frame. The payload is copied; the caller keeps ownership of its buffer.
func EncodeFrame(payload []byte) []byte {
	hdr := Header(uint32(len(payload)))
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	return buf
}

// ReadFrame decodes a single frame from r: exactly HeaderSize header bytes,
// magic validation, then exactly the declared payload length into a freshly
// allocated buffer owned by the caller.
//
// Short or failed reads wrap ErrRead. A mismatched magic returns a
// *FramingError without consuming any bytes past the header.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrRead, err)
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, &FramingError{Magic: magic}
	}

	length := binary.LittleEndian.Uint32(hdr[4:8])

	// The length comes from an untrusted peer, so grow the buffer with the
	// bytes that actually arrive instead of allocating it up front.
	payload, err := io.ReadAll(io.LimitReader(r, int64(length)))
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrRead, err)
	}
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("%w: payload: got %d of %d bytes", ErrRead, len(payload), length)
	}
	return payload, nil
}
