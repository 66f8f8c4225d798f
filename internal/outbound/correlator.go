// Package outbound tracks requests this side has sent and matches incoming
// responses to them by id.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
)

// CancelMethod is the notification used for advisory cancellation.
const CancelMethod = "$/cancelRequest"

// Transport writes messages to the peer.
type Transport interface {
	// SendRequest writes a request or notification.
	SendRequest(ctx context.Context, req *jsonrpc.Request) error
}

var (
	// ErrConnectionClosed settles every call still pending when the transport
	// goes away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotPending is returned by Cancel for ids that are not in flight.
	ErrNotPending = errors.New("request is not pending")
)

// Call is the future for one outgoing request. It settles exactly once.
type Call struct {
	id        *jsonrpc.RequestID
	method    string
	createdAt time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id *jsonrpc.RequestID, method string) *Call {
	return &Call{id: id, method: method, createdAt: time.Now(), done: make(chan struct{})}
}

// ID returns the request id assigned to the call.
func (c *Call) ID() *jsonrpc.RequestID { return c.id }

// Method returns the request method.
func (c *Call) Method() string { return c.method }

// CreatedAt returns when the request was registered.
func (c *Call) CreatedAt() time.Time { return c.createdAt }

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the outcome of a settled call. Before settlement it returns
// nil, nil.
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call settles or ctx ends. An expired ctx does not
// settle the call and leaves the request pending.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abandon settles the call locally with err. The request stays registered so
// the eventual response is absorbed quietly.
func (c *Call) Abandon(err error) {
	if err == nil {
		err = context.Canceled
	}
	c.settle(nil, err)
}

func (c *Call) settle(result json.RawMessage, err error) bool {
	settled := false
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

// Correlator assigns ids to outgoing requests and routes responses back to
// their Call. It is transport-agnostic.
type Correlator struct {
	t Transport

	mu      sync.Mutex
	pending map[string]*Call // id.Key() -> call

	nextID atomic.Int64

	closed   atomic.Bool
	closeErr error
}

// New constructs a Correlator using the provided transport.
func New(t Transport) *Correlator {
	return &Correlator{t: t, pending: make(map[string]*Call)}
}

func (c *Correlator) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

// Send registers and writes a request. The returned Call settles when the
// matching response arrives or the correlator is closed.
func (c *Correlator) Send(ctx context.Context, method string, params any) (*Call, error) {
	if c.closed.Load() {
		return nil, c.err()
	}

	id := jsonrpc.NewRequestID(c.nextID.Add(1))
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	call := newCall(id, method)
	key := id.Key()

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, c.err()
	}
	c.pending[key] = call
	c.mu.Unlock()

	if err := c.t.SendRequest(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	return call, nil
}

// Notify writes a notification. It shares the closed state with Send.
func (c *Correlator) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return c.err()
	}
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.t.SendRequest(ctx, n); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

// OnResponse settles the call matching resp.ID. It reports false when no
// call with that id is pending; the caller decides how to log that.
func (c *Correlator) OnResponse(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID.IsNil() {
		return false
	}
	call, ok := c.take(resp.ID)
	if !ok {
		return false
	}

	if resp.Error != nil {
		call.settle(nil, resp.Error)
	} else {
		call.settle(resp.Result, nil)
	}
	return true
}

// Reject settles the pending call id with err, for a reply that arrived but
// could not be read as a response. It reports false when id is not pending.
func (c *Correlator) Reject(id *jsonrpc.RequestID, err error) bool {
	if id.IsNil() {
		return false
	}
	call, ok := c.take(id)
	if !ok {
		return false
	}
	call.settle(nil, err)
	return true
}

func (c *Correlator) take(id *jsonrpc.RequestID) (*Call, bool) {
	key := id.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return call, ok
}

// Cancel asks the peer to stop working on id by emitting one $/cancelRequest.
// It does not settle the call.
func (c *Correlator) Cancel(ctx context.Context, id *jsonrpc.RequestID) error {
	c.mu.Lock()
	_, ok := c.pending[id.Key()]
	c.mu.Unlock()
	if !ok {
		return ErrNotPending
	}
	return c.Notify(ctx, CancelMethod, map[string]any{"id": id})
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects all pending calls with err (ErrConnectionClosed when nil) and
// prevents new calls.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}
	c.mu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.closeErr = err
	calls := make([]*Call, 0, len(c.pending))
	for key, call := range c.pending {
		delete(c.pending, key)
		calls = append(calls, call)
	}
	c.mu.Unlock()

	for _, call := range calls {
		call.settle(nil, err)
	}
}
