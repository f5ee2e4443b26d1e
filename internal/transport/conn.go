package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/CorralNAS/dispatcher-client/internal/logging"
	"github.com/CorralNAS/dispatcher-client/internal/protocol"
)

var (
	// ErrConnect reports a failure to establish the connection.
	ErrConnect = errors.New("transport: connect failed")
	// ErrSend reports a write failure mid-frame. The stream state is
	// unknown afterwards, so the caller must close the connection.
	ErrSend = errors.New("transport: send failed")
	// ErrClosed reports use of a connection after Close.
	ErrClosed = errors.New("transport: connection closed")
)

// MessageHandler receives one decoded frame payload per invocation.
// Ownership of the buffer transfers to the handler. Invocations happen on
// the connection's event-loop goroutine, strictly serialized, in the order
// the peer wrote the frames.
type MessageHandler func(c *Conn, payload []byte)

// CloseHandler is invoked exactly once per connection lifetime, when the
// event loop terminates for any reason: peer shutdown, read or framing
// error, or a local Close.
type CloseHandler func(c *Conn)

// Conn is one live Unix domain socket transport endpoint.
type Conn struct {
	fd   int
	path string

	onMessage MessageHandler
	onClose   CloseHandler
	logger    *slog.Logger

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	loopDone  chan struct{}
}

// Dial connects to the dispatcher socket at path and starts the event loop.
// Both handlers are bound before the first frame can arrive; onClose may be
// nil. On any failure all partially acquired resources are released and no
// Conn escapes.
func Dial(path string, onMessage MessageHandler, onClose CloseHandler, logger *slog.Logger) (*Conn, error) {
	if onMessage == nil {
		return nil, fmt.Errorf("%w: nil message handler", ErrConnect)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %w", ErrConnect, err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: connect %s: %w", ErrConnect, path, err)
	}

	c := &Conn{
		fd:        fd,
		path:      path,
		onMessage: onMessage,
		onClose:   onClose,
		logger:    logging.NewComponentLogger(logger, "transport"),
		loopDone:  make(chan struct{}),
	}
	go c.eventLoop()
	return c, nil
}

// Path returns the filesystem path the connection was established with.
func (c *Conn) Path() string {
	return c.path
}

// Send writes one frame synchronously: the 8-byte header with the process
// credentials attached as ancillary data, then the payload. A mutex
// serializes concurrent senders so frames are never interleaved on the wire.
// The caller keeps ownership of payload.
//
// A send failure is connection-fatal; the transport does not retry, and the
// caller is expected to Close the connection.
func (c *Conn) Send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	hdr := protocol.Header(uint32(len(payload)))
	if err := c.writeAll(hdr[:], credentials()); err != nil {
		return fmt.Errorf("%w: header: %w", ErrSend, err)
	}
	if err := c.writeAll(payload, nil); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrSend, err)
	}
	return nil
}

// writeAll writes p fully, attaching oob to the first bytes sent.
func (c *Conn) writeAll(p, oob []byte) error {
	for len(p) > 0 {
		n, err := unix.SendmsgN(c.fd, p, oob, nil, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		p = p[n:]
		oob = nil
	}
	return nil
}

// Abort invokes the close handler without tearing down the socket or the
// event loop. The handler runs at most once per connection lifetime no
// matter how many termination paths race to report it.
func (c *Conn) Abort() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Close tears the connection down: it shuts the socket down in both
// directions so the event loop wakes from its readiness wait, waits for the
// loop to exit, then releases the descriptor. Close is the only sanctioned
// teardown path; after it returns no further handler invocations occur.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}

	// shutdown(2) always unblocks a pending read on the descriptor, which
	// is what bounds the wait below.
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	<-c.loopDone

	// A sender that passed the closed check before the swap above may still
	// be mid-write. Releasing the descriptor while it runs would let the fd
	// number be reused and the frame land in an unrelated descriptor, so
	// take the send lock before close. The shutdown already forces such a
	// write to fail fast with EPIPE.
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("transport: close %s: %w", c.path, err)
	}
	return nil
}
