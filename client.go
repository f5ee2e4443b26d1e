package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/CorralNAS/dispatcher-client/internal/logging"
	"github.com/CorralNAS/dispatcher-client/internal/transport"
)

// ErrConnectionReset reports that the connection dropped with calls pending.
var ErrConnectionReset = errors.New("dispatcher: connection reset")

// EventHandler receives events pushed by the daemon. Invocations happen on
// the connection's event-loop goroutine, one at a time.
type EventHandler func(name string, args json.RawMessage)

// ErrorHandler receives asynchronous connection-level failures.
type ErrorHandler func(err error)

// envelope is the JSON wrapper every frame carries.
type envelope struct {
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	ID        *string         `json:"id"`
	Args      json.RawMessage `json:"args"`
}

type callArgs struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

type eventPayload struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Resource string `json:"resource"`
}

type serviceLogin struct {
	Name string `json:"name"`
}

// Client is one live connection to the dispatcher daemon.
type Client struct {
	conn   *transport.Conn
	logger *slog.Logger

	mu    sync.Mutex
	calls map[string]*Call

	closing atomic.Bool

	onEvent EventHandler
	onError ErrorHandler
}

// Option customizes a Client before it connects.
type Option func(*Client)

// WithLogger routes client and transport logging to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEventHandler registers the handler for daemon-pushed events.
func WithEventHandler(h EventHandler) Option {
	return func(c *Client) {
		c.onEvent = h
	}
}

// WithErrorHandler registers the handler notified when the connection fails.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Client) {
		c.onError = h
	}
}

// Open connects to the dispatcher daemon socket at path.
func Open(path string, opts ...Option) (*Client, error) {
	c := &Client{
		calls: make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	base := c.logger
	c.logger = logging.NewComponentLogger(base, "dispatcher")

	conn, err := transport.Dial(path, c.handleMessage, c.handleClose, base)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Close tears down the connection. Any calls still in flight fail with
// ErrConnectionReset before Close returns.
func (c *Client) Close() error {
	c.closing.Store(true)
	return c.conn.Close()
}

// Call invokes a remote method and blocks until the daemon answers or ctx is
// done. For streaming-capable methods the returned payload is the first
// response; use CallAsync and Call.Continue to pull further fragments.
func (c *Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	call, err := c.CallAsync(method, args, nil)
	if err != nil {
		return nil, err
	}
	if err := call.Wait(ctx); err != nil {
		c.dropCall(call.id)
		return nil, err
	}
	if call.Status() == StatusMoreAvailable {
		// A synchronous caller cannot continue a stream, so tell the daemon
		// to stop and unregister the call; otherwise it would stay in the
		// pending table for the life of the connection.
		_ = call.Abort()
		c.dropCall(call.id)
	}
	return call.Result(), call.Err()
}

// CallAsync invokes a remote method without waiting. The optional callback
// runs on the event-loop goroutine each time the call resolves, including
// once per streaming fragment.
func (c *Client) CallAsync(method string, args any, callback Callback) (*Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: encode args for %s: %w", method, err)
	}

	call := c.newCall(method, callback)
	if err := c.sendCall("call", call, callArgs{Method: method, Args: raw}); err != nil {
		c.dropCall(call.id)
		return nil, err
	}
	return call, nil
}

// LoginUser authenticates the connection with user credentials.
func (c *Client) LoginUser(ctx context.Context, username, password, resource string) error {
	return c.authCall(ctx, "auth", userLogin{Username: username, Password: password, Resource: resource})
}

// LoginService authenticates the connection as a named service.
func (c *Client) LoginService(ctx context.Context, name string) error {
	return c.authCall(ctx, "auth_service", serviceLogin{Name: name})
}

// SubscribeEvents asks the daemon to start delivering the named events.
func (c *Client) SubscribeEvents(names ...string) error {
	if names == nil {
		names = []string{}
	}
	return c.send("events", "subscribe", nil, names)
}

// UnsubscribeEvents asks the daemon to stop delivering the named events.
func (c *Client) UnsubscribeEvents(names ...string) error {
	if names == nil {
		names = []string{}
	}
	return c.send("events", "unsubscribe", nil, names)
}

// EmitEvent publishes an event through the daemon.
func (c *Client) EmitEvent(name string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("dispatcher: encode event %s: %w", name, err)
	}
	return c.send("events", "event", nil, eventPayload{Name: name, Args: raw})
}

func (c *Client) authCall(ctx context.Context, name string, args any) error {
	call := c.newCall(name, nil)
	if err := c.sendCall(name, call, args); err != nil {
		c.dropCall(call.id)
		return err
	}
	if err := call.Wait(ctx); err != nil {
		c.dropCall(call.id)
		return err
	}
	return call.Err()
}

func (c *Client) newCall(method string, callback Callback) *Call {
	call := &Call{
		client:   c,
		id:       uuid.NewString(),
		method:   method,
		callback: callback,
		status:   StatusInProgress,
		ready:    make(chan struct{}),
	}
	c.mu.Lock()
	c.calls[call.id] = call
	c.mu.Unlock()
	return call
}

func (c *Client) dropCall(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) sendCall(kind string, call *Call, args any) error {
	id := call.id
	return c.send("rpc", kind, &id, args)
}

func (c *Client) send(ns, name string, id *string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("dispatcher: encode %s.%s args: %w", ns, name, err)
	}
	buf, err := json.Marshal(envelope{Namespace: ns, Name: name, ID: id, Args: raw})
	if err != nil {
		return fmt.Errorf("dispatcher: encode %s.%s envelope: %w", ns, name, err)
	}
	return c.conn.Send(buf)
}

// handleMessage runs on the transport event-loop goroutine for every frame.
func (c *Client) handleMessage(_ *transport.Conn, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.logger.Warn("dropping undecodable frame", logging.Args(logging.Error(err))...)
		c.reportError(fmt.Errorf("dispatcher: invalid frame payload: %w", err))
		return
	}

	switch env.Namespace {
	case "rpc":
		c.processRPC(&env)
	case "events":
		c.processEvent(&env)
	default:
		c.logger.Debug("ignoring frame for unknown namespace",
			logging.Args(logging.String("namespace", env.Namespace))...)
	}
}

func (c *Client) processRPC(env *envelope) {
	if env.ID == nil {
		return
	}

	c.mu.Lock()
	call := c.calls[*env.ID]
	if call != nil && env.Name != "fragment" {
		// Fragments keep the call registered for continuation; everything
		// else is terminal.
		delete(c.calls, *env.ID)
	}
	c.mu.Unlock()

	if call == nil {
		c.logger.Debug("response for unknown call", logging.Args(logging.String("id", *env.ID))...)
		return
	}

	switch env.Name {
	case "response", "end":
		call.resolve(StatusDone, env.Args, 0)
	case "error":
		call.resolve(StatusError, env.Args, 0)
	case "fragment":
		var frag fragmentArgs
		if err := json.Unmarshal(env.Args, &frag); err != nil {
			call.fail(fmt.Errorf("dispatcher: malformed fragment for %s: %w", call.method, err))
			return
		}
		call.resolve(StatusMoreAvailable, frag.Fragment, frag.Seqno)
	default:
		c.logger.Debug("ignoring unknown rpc message", logging.Args(logging.String("name", env.Name))...)
	}
}

func (c *Client) processEvent(env *envelope) {
	if env.Name != "event" {
		return
	}
	var ev eventPayload
	if err := json.Unmarshal(env.Args, &ev); err != nil {
		c.logger.Warn("dropping malformed event", logging.Args(logging.Error(err))...)
		return
	}
	if c.onEvent != nil {
		c.onEvent(ev.Name, ev.Args)
	}
}

// handleClose runs once when the transport terminates for any reason. Every
// pending call is failed so waiters wake up.
func (c *Client) handleClose(*transport.Conn) {
	c.mu.Lock()
	pending := make([]*Call, 0, len(c.calls))
	for _, call := range c.calls {
		pending = append(pending, call)
	}
	c.calls = make(map[string]*Call)
	c.mu.Unlock()

	for _, call := range pending {
		call.fail(ErrConnectionReset)
	}

	if !c.closing.Load() {
		c.logger.Warn("connection lost", logging.Args(logging.Int("pending_calls", len(pending)))...)
		c.reportError(ErrConnectionReset)
	}
}

func (c *Client) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
