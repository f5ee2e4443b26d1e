package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/CorralNAS/dispatcher-client/internal/protocol"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte{},
		[]byte("ping"),
		[]byte{0x00},
		bytes.Repeat([]byte("abcd"), 4096),
	}
	for _, payload := range payloads {
		frame := protocol.EncodeFrame(payload)
		if len(frame) != protocol.HeaderSize+len(payload) {
			t.Fatalf("frame length %d, want %d", len(frame), protocol.HeaderSize+len(payload))
		}
		decoded, err := protocol.ReadFrame(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("payload mismatch: got %d bytes, want %d", len(decoded), len(payload))
		}
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	var hdr [protocol.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0xcafebabe)
	binary.LittleEndian.PutUint32(hdr[4:8], 4)
	r := bytes.NewReader(append(hdr[:], []byte("junk")...))

	_, err := protocol.ReadFrame(r)
	var fe *protocol.FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if fe.Magic != 0xcafebabe {
		t.Fatalf("unexpected magic in error: 0x%08x", fe.Magic)
	}
	if r.Len() != 4 {
		t.Fatalf("decoder consumed payload bytes after bad header: %d left, want 4", r.Len())
	}
	if !strings.Contains(err.Error(), "cafebabe") {
		t.Fatalf("error should name the observed magic: %v", err)
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	_, err := protocol.ReadFrame(bytes.NewReader([]byte{0xef, 0xbe}))
	if !errors.Is(err, protocol.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF to stay visible, got %v", err)
	}
}

func TestReadFrameShortPayload(t *testing.T) {
	frame := protocol.EncodeFrame([]byte("full payload"))
	_, err := protocol.ReadFrame(bytes.NewReader(frame[:len(frame)-3]))
	if !errors.Is(err, protocol.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}

func TestReadFrameEOF(t *testing.T) {
	_, err := protocol.ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, protocol.ErrRead) || !errors.Is(err, io.EOF) {
		t.Fatalf("clean EOF should wrap ErrRead and io.EOF, got %v", err)
	}
}

func TestReadFrameHugeDeclaredLength(t *testing.T) {
	// A header can declare up to 4 GiB of payload that never arrives. The
	// decoder must fail once the stream runs dry instead of allocating the
	// declared size up front.
	hdr := protocol.Header(0xffffffff)
	_, err := protocol.ReadFrame(bytes.NewReader(append(hdr[:], []byte("only this")...)))
	if !errors.Is(err, protocol.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}
