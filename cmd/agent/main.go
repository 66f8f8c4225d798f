// Command agent drives and serves the agent JSON-RPC protocol.
//
// Usage:
//
//	agent jsonrpc                          serve a worker on stdin/stdout
//	agent call echo '{"msg":"hi"}'         spawn a worker and send one request
//	agent call recipes/execute '{"id":"chat-question","humanChatInput":"hi"}' \
//	    --stream chat/updateMessageInProgress
//	agent methods                          print the method table
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version can be overridden at build time using ldflags.
var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
