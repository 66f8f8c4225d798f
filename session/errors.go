package session

import (
	"errors"

	"github.com/ggoodman/agent-jsonrpc-go/internal/dispatch"
	"github.com/ggoodman/agent-jsonrpc-go/internal/outbound"
)

var (
	// ErrNotReady is returned for application traffic attempted before the
	// initialize handshake has completed.
	ErrNotReady = errors.New("session not ready")
	// ErrDisposed is returned for any call made after Dispose or Close.
	ErrDisposed = errors.New("session disposed")
	// ErrConnectionClosed settles calls that were pending when the transport
	// went away. Errors surfaced for a dead session wrap it.
	ErrConnectionClosed = outbound.ErrConnectionClosed
	// ErrStreamBusy is returned by Stream when an operation streaming on the
	// same notification method has not yet ended.
	ErrStreamBusy = errors.New("stream already in progress")
	// ErrExitWithoutShutdown is returned by Serve when the peer sent exit
	// without a preceding shutdown.
	ErrExitWithoutShutdown = errors.New("exit received before shutdown")
	// ErrDuplicateHandler is returned when a method already has a handler.
	ErrDuplicateHandler = dispatch.ErrDuplicateHandler
	// ErrRateLimited may be wrapped by handlers to answer with the rate limit
	// error code.
	ErrRateLimited = dispatch.ErrRateLimited
	// ErrRequestCanceled is the context cause seen by handlers whose request
	// the peer canceled.
	ErrRequestCanceled = dispatch.ErrRequestCanceled
)
