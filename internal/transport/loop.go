package transport

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/CorralNAS/dispatcher-client/internal/logging"
	"github.com/CorralNAS/dispatcher-client/internal/protocol"
)

// eventLoop runs for the lifetime of the connection on its own goroutine.
// It registers the socket with epoll, blocks on readiness, reads one frame
// per readiness event, and dispatches it to the message handler. Every
// terminating path fires the close handler through Abort before the loop
// exits, so callers get exactly one close notification per connection.
func (c *Conn) eventLoop() {
	defer close(c.loopDone)

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		c.logger.Error("epoll create failed", logging.Args(logging.Error(err))...)
		c.Abort()
		return
	}
	defer unix.Close(epfd)

	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(c.fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, c.fd, &event); err != nil {
		c.logger.Error("epoll register failed",
			logging.Args(logging.Error(err), logging.String("socket", c.path))...)
		c.Abort()
		return
	}

	events := make([]unix.EpollEvent, 1)
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			c.logger.Error("epoll wait failed", logging.Args(logging.Error(err))...)
			c.Abort()
			return
		}

		for i := 0; i < n; i++ {
			if events[i].Fd != int32(c.fd) {
				continue
			}

			// Peer hung up or the descriptor errored with nothing left to
			// read. With EPOLLIN still set there may be buffered frames, so
			// keep draining; the read path reports EOF once they are gone.
			mask := events[i].Events
			if mask&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 && mask&unix.EPOLLIN == 0 {
				c.Abort()
				return
			}

			payload, err := c.receive()
			if err != nil {
				// A framed stream cannot be resynchronized after a bad
				// header, and a short read means the peer died mid-frame.
				// Either way the connection is done.
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("receive failed",
						logging.Args(logging.Error(err), logging.String("socket", c.path))...)
				}
				c.Abort()
				return
			}
			c.onMessage(c, payload)
		}
	}
}

// receive decodes one frame from the connection's socket. It is driven only
// by the event loop; the loop owns the descriptor for reads while running.
func (c *Conn) receive() ([]byte, error) {
	return protocol.ReadFrame(fdReader{fd: c.fd})
}

// fdReader adapts the raw descriptor to io.Reader for the framing codec.
type fdReader struct {
	fd int
}

func (r fdReader) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(r.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}
