package testsupport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/CorralNAS/dispatcher-client/internal/protocol"
)

// FrameHandler inspects one received frame payload and returns zero or more
// reply payloads to write back to the same client.
type FrameHandler func(payload []byte) [][]byte

// FakeDispatcher is an in-process stand-in for the dispatcher daemon: a Unix
// socket listener speaking the framed wire protocol. Received payloads are
// exposed on Frames; replies come from an optional FrameHandler or explicit
// Send calls.
type FakeDispatcher struct {
	t        testing.TB
	path     string
	listener net.Listener
	handler  FrameHandler

	frames chan []byte

	mu      sync.Mutex
	clients []net.Conn
	writeMu sync.Mutex

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// Option customizes a FakeDispatcher.
type Option func(*FakeDispatcher)

// WithFrameHandler installs a reply function invoked for every received frame.
func WithFrameHandler(h FrameHandler) Option {
	return func(f *FakeDispatcher) {
		f.handler = h
	}
}

// EchoHandler replies to every frame with an identical frame.
func EchoHandler(payload []byte) [][]byte {
	return [][]byte{payload}
}

// NewFakeDispatcher starts a listener on a per-test socket path and cleans
// everything up when the test finishes.
func NewFakeDispatcher(t testing.TB, opts ...Option) *FakeDispatcher {
	t.Helper()

	path := SocketPath(t)
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on %s: %v", path, err)
	}

	f := &FakeDispatcher{
		t:        t,
		path:     path,
		listener: listener,
		frames:   make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.wg.Add(1)
	go f.acceptLoop()
	t.Cleanup(f.Close)
	return f
}

// Path returns the socket path clients should dial.
func (f *FakeDispatcher) Path() string {
	return f.path
}

// Frames exposes payloads received from clients in arrival order.
func (f *FakeDispatcher) Frames() <-chan []byte {
	return f.frames
}

// Send frames payload and writes it to the most recently accepted client,
// waiting briefly for one to appear.
func (f *FakeDispatcher) Send(payload []byte) error {
	return f.SendRaw(protocol.EncodeFrame(payload))
}

// SendRaw writes bytes to the most recently accepted client without framing.
// Tests use it to inject malformed data.
func (f *FakeDispatcher) SendRaw(raw []byte) error {
	conn, err := f.waitClient(2 * time.Second)
	if err != nil {
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_, err = conn.Write(raw)
	return err
}

// CloseClients drops every accepted connection, simulating the peer closing
// its end.
func (f *FakeDispatcher) CloseClients() {
	f.mu.Lock()
	clients := f.clients
	f.clients = nil
	f.mu.Unlock()
	for _, conn := range clients {
		_ = conn.Close()
	}
}

// Close stops the listener and all per-connection goroutines.
func (f *FakeDispatcher) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
		_ = f.listener.Close()
		f.CloseClients()
		f.wg.Wait()
	})
}

func (f *FakeDispatcher) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.clients = append(f.clients, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *FakeDispatcher) serve(conn net.Conn) {
	defer f.wg.Done()
	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		select {
		case f.frames <- payload:
		case <-f.closed:
			return
		}
		if f.handler != nil {
			for _, reply := range f.handler(payload) {
				f.writeMu.Lock()
				_, err := conn.Write(protocol.EncodeFrame(reply))
				f.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}
}

func (f *FakeDispatcher) waitClient(timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		n := len(f.clients)
		var conn net.Conn
		if n > 0 {
			conn = f.clients[n-1]
		}
		f.mu.Unlock()
		if conn != nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.New("testsupport: no connected client")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
