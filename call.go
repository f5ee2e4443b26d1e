package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Status describes where a call stands in its lifecycle.
type Status int

const (
	// StatusInProgress means the daemon has not answered yet.
	StatusInProgress Status = iota
	// StatusDone means the final response arrived.
	StatusDone
	// StatusError means the call failed, remotely or locally.
	StatusError
	// StatusMoreAvailable means a streaming fragment arrived and more can be
	// requested with Continue.
	StatusMoreAvailable
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in-progress"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	case StatusMoreAvailable:
		return "more-available"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Callback observes call resolution. It runs on the connection's event-loop
// goroutine and must not block or call Client.Close.
type Callback func(call *Call)

// RPCError is a structured error returned by the daemon.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("dispatcher: rpc error %d: %s", e.Code, e.Message)
}

type fragmentArgs struct {
	Seqno    int             `json:"seqno"`
	Fragment json.RawMessage `json:"fragment"`
}

// Call tracks one in-flight RPC invocation.
type Call struct {
	client   *Client
	id       string
	method   string
	callback Callback

	mu     sync.Mutex
	status Status
	result json.RawMessage
	seqno  int
	err    error
	ready  chan struct{}
}

// ID returns the call's wire identifier.
func (c *Call) ID() string { return c.id }

// Method returns the remote method name.
func (c *Call) Method() string { return c.method }

// Status returns the call's current state.
func (c *Call) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Result returns the latest response or fragment payload.
func (c *Call) Result() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the call's error, or nil while it is in progress or after it
// succeeded.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errLocked()
}

// Wait blocks until the call leaves StatusInProgress or ctx is done. It does
// not consume the result; inspect Status, Result and Err afterwards.
func (c *Call) Wait(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Continue requests the next fragment of a streaming response and waits for
// it. It is only valid while the call is in StatusMoreAvailable.
func (c *Call) Continue(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusMoreAvailable {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("dispatcher: cannot continue %s call %s", status, c.method)
	}
	next := c.seqno + 1
	c.status = StatusInProgress
	c.result = nil
	c.ready = make(chan struct{})
	c.mu.Unlock()

	id := c.id
	if err := c.client.send("rpc", "continue", &id, next); err != nil {
		c.fail(err)
		c.client.dropCall(c.id)
		return err
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return c.Err()
}

// Abort asks the daemon to stop a streaming call. The daemon answers with a
// terminal message that resolves the call.
func (c *Call) Abort() error {
	id := c.id
	return c.client.send("rpc", "abort", &id, nil)
}

// resolve records the daemon's verdict and wakes waiters. Late messages for
// an already-resolved call are dropped.
func (c *Call) resolve(status Status, result json.RawMessage, seqno int) {
	c.mu.Lock()
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.result = result
	if status == StatusMoreAvailable {
		c.seqno = seqno
	}
	ready := c.ready
	cb := c.callback
	c.mu.Unlock()

	close(ready)
	if cb != nil {
		cb(c)
	}
}

// fail resolves the call with a local error.
func (c *Call) fail(err error) {
	c.mu.Lock()
	if c.status != StatusInProgress {
		c.mu.Unlock()
		return
	}
	c.status = StatusError
	c.err = err
	ready := c.ready
	cb := c.callback
	c.mu.Unlock()

	close(ready)
	if cb != nil {
		cb(c)
	}
}

func (c *Call) errLocked() error {
	if c.status != StatusError {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	rpcErr := &RPCError{}
	if len(c.result) > 0 && json.Unmarshal(c.result, rpcErr) == nil && (rpcErr.Code != 0 || rpcErr.Message != "") {
		c.err = rpcErr
	} else {
		c.err = fmt.Errorf("dispatcher: call %s failed: %s", c.method, string(c.result))
	}
	return c.err
}
