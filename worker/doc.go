// Package worker implements the headless agent served over stdio by
// `agent jsonrpc`. It is intended to be spawned as a subprocess by a
// controller using session.Start.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 controller
//	Sessions         : one per Serve call; documents and transcript are per session
//	Transport        : Content-Length framed JSON-RPC over stdin/stdout
//	Diagnostics      : stderr, outside the protocol
//
// Beyond the lifecycle methods handled by the session, the worker serves
// echo, the recipes/* family (streamed through chat/updateMessageInProgress),
// textDocument/* and extensionConfiguration/didChange notifications, and the
// testing/progress requests used to exercise progress bars.
//
// Example:
//
//	w := worker.New(worker.WithLogger(logger))
//	if err := w.Serve(ctx); err != nil { log.Fatal(err) }
package worker
