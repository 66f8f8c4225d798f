// Package dispatch routes incoming requests and notifications to the handlers
// registered for their method and turns handler outcomes into responses.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/internal/logctx"
	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
)

// CancelMethod is handled by every Dispatcher.
const CancelMethod = "$/cancelRequest"

// RequestHandler answers a request. The returned value becomes the result;
// a returned error becomes an error response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes a notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// ReplyFunc writes a response to the peer.
type ReplyFunc func(ctx context.Context, resp *jsonrpc.Response) error

// Validator checks params for a method before its handler runs.
type Validator interface {
	Validate(method string, params json.RawMessage) error
}

// Gate may refuse a request before it reaches its handler.
type Gate func(method string) *jsonrpc.Error

var (
	// ErrDuplicateHandler is returned when a method already has a handler.
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrRateLimited can be wrapped by handlers to answer with the rate
	// limit error code.
	ErrRateLimited = errors.New("rate limited")
	// ErrRequestCanceled is the context cause for requests the peer canceled.
	ErrRequestCanceled = errors.New("request canceled")
)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = logctx.Wrap(l)
		}
	}
}

// WithValidator sets the params validator.
func WithValidator(v Validator) Option {
	return func(d *Dispatcher) {
		d.validator = v
	}
}

// WithGate sets the admission check run before every request handler.
func WithGate(g Gate) Option {
	return func(d *Dispatcher) {
		d.gate = g
	}
}

// Dispatcher owns one method table per message kind. Requests run
// concurrently, each in its own goroutine; notifications run on the caller's
// goroutine so their order is preserved.
type Dispatcher struct {
	reply     ReplyFunc
	log       *slog.Logger
	validator Validator
	gate      Gate

	mu            sync.Mutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	inflight      map[string]*inflightRequest

	wg sync.WaitGroup
}

// New constructs a Dispatcher that writes responses through reply.
func New(reply ReplyFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reply:         reply,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		inflight:      make(map[string]*inflightRequest),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterRequest installs the handler for a request method.
func (d *Dispatcher) RegisterRequest(method string, h RequestHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.requests[method]; ok {
		return fmt.Errorf("%w: request %q", ErrDuplicateHandler, method)
	}
	d.requests[method] = h
	return nil
}

// RegisterNotification installs the handler for a notification method.
func (d *Dispatcher) RegisterNotification(method string, h NotificationHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if method == CancelMethod {
		return fmt.Errorf("%w: notification %q is built in", ErrDuplicateHandler, method)
	}
	if _, ok := d.notifications[method]; ok {
		return fmt.Errorf("%w: notification %q", ErrDuplicateHandler, method)
	}
	d.notifications[method] = h
	return nil
}

// InFlight returns the number of requests currently being handled.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every request handler started so far has replied.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch routes one request or notification. Responses are ignored; they
// belong to the correlator. ctx bounds the lifetime of request handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *jsonrpc.AnyMessage) {
	switch msg.Kind() {
	case jsonrpc.KindRequest:
		d.handleRequest(ctx, msg)
	case jsonrpc.KindNotification:
		d.handleNotification(ctx, msg)
	}
}

type inflightRequest struct {
	cancel context.CancelCauseFunc
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg *jsonrpc.AnyMessage) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})
	log := d.log.With(slog.String("method", msg.Method))

	key := msg.ID.Key()
	hctx, cancel := context.WithCancelCause(ctx)

	d.mu.Lock()
	h, ok := d.requests[msg.Method]
	if _, dup := d.inflight[key]; dup {
		log.WarnContext(ctx, "dispatch.request.duplicate_id", slog.String("id", msg.ID.String()))
	}
	entry := &inflightRequest{cancel: cancel}
	d.inflight[key] = entry
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			// A later request reusing the id owns the slot now.
			if d.inflight[key] == entry {
				delete(d.inflight, key)
			}
			d.mu.Unlock()
			cancel(nil)
		}()

		start := time.Now()
		resp := d.invoke(hctx, log, msg, h, ok)
		if err := d.reply(ctx, resp); err != nil {
			log.ErrorContext(ctx, "dispatch.reply.err", slog.String("err", err.Error()))
			return
		}
		if resp.Error != nil {
			log.InfoContext(ctx, "dispatch.request.fail",
				slog.Int("code", int(resp.Error.Code)),
				slog.String("err", resp.Error.Message),
				slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return
		}
		log.DebugContext(ctx, "dispatch.request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}()
}

// invoke always produces exactly one response for msg.
func (d *Dispatcher) invoke(ctx context.Context, log *slog.Logger, msg *jsonrpc.AnyMessage, h RequestHandler, ok bool) (resp *jsonrpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "dispatch.request.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()

	if d.gate != nil {
		if jerr := d.gate(msg.Method); jerr != nil {
			return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: jerr, ID: msg.ID}
		}
	}

	if !ok {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+msg.Method, nil)
	}

	if d.validator != nil {
		if err := d.validator.Validate(msg.Method, msg.Params); err != nil {
			var data any = err.Error()
			if ed, ok := err.(interface{ ErrorData() any }); ok {
				data = ed.ErrorData()
			}
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params for "+msg.Method, data)
		}
	}

	res, err := h(ctx, msg.Params)
	if err != nil {
		return errorResponse(ctx, msg.ID, err)
	}

	out, err := jsonrpc.NewResultResponse(msg.ID, res)
	if err != nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return out
}

func errorResponse(ctx context.Context, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var jerr *jsonrpc.Error
	switch {
	case errors.As(err, &jerr):
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: jerr, ID: id}
	case errors.Is(err, ErrRateLimited):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeRateLimit, err.Error(), nil)
	case errors.Is(context.Cause(ctx), ErrRequestCanceled), errors.Is(err, ErrRequestCanceled):
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeRequestCanceled, "request canceled", nil)
	default:
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, msg *jsonrpc.AnyMessage) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, Type: msg.Type()})
	log := d.log.With(slog.String("method", msg.Method))

	if msg.Method == CancelMethod {
		d.cancelInflight(ctx, log, msg.Params)
		return
	}

	d.mu.Lock()
	h, ok := d.notifications[msg.Method]
	d.mu.Unlock()
	if !ok {
		log.DebugContext(ctx, "dispatch.notification.unhandled")
		return
	}
	if d.validator != nil {
		if err := d.validator.Validate(msg.Method, msg.Params); err != nil {
			log.WarnContext(ctx, "dispatch.notification.invalid_params", slog.String("err", err.Error()))
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "dispatch.notification.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	h(ctx, msg.Params)
}

func (d *Dispatcher) cancelInflight(ctx context.Context, log *slog.Logger, params json.RawMessage) {
	var p struct {
		ID *jsonrpc.RequestID `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID.IsNil() {
		log.WarnContext(ctx, "dispatch.cancel.invalid_params")
		return
	}

	d.mu.Lock()
	entry, ok := d.inflight[p.ID.Key()]
	d.mu.Unlock()
	if !ok {
		log.DebugContext(ctx, "dispatch.cancel.unknown_id", slog.String("id", p.ID.String()))
		return
	}
	entry.cancel(ErrRequestCanceled)
	log.DebugContext(ctx, "dispatch.cancel.ok", slog.String("id", p.ID.String()))
}
