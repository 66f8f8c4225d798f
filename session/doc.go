// Package session runs one end of an agent protocol connection.
//
// A Session binds a byte stream to a message codec, a dispatcher for
// incoming traffic and a correlator for outgoing requests. Sessions are
// values: each owns its own method tables and pending requests, so a process
// can hold many at once.
//
// # Client
//
// Start spawns a worker process and performs the handshake over its stdio:
//
//	s, err := session.Start(ctx, session.LaunchConfig{Command: "agent-worker"},
//		protocol.ClientInfo{Name: "editor", Version: "1.0.0", WorkspaceRootURI: "file:///src"})
//	if err != nil {
//		return err
//	}
//	defer s.Dispose(context.Background())
//
//	var out protocol.EchoParams
//	err = s.Call(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "hi"}, &out)
//
// Connect and Dial do the same over an existing connection. Application
// traffic attempted before the handshake completes fails with ErrNotReady;
// anything attempted after Dispose fails with ErrDisposed.
//
// # Server
//
// NewServer wraps the worker's end of the stream. The session answers the
// lifecycle methods itself and refuses other requests until initialize has
// been handled:
//
//	s, _ := session.NewServer(os.Stdin, os.Stdout)
//	_ = s.HandleRequest(protocol.EchoMethod, session.HandleRequestFunc(
//		func(ctx context.Context, p protocol.EchoParams) (protocol.EchoParams, error) {
//			return p, nil
//		}))
//	err := s.Serve(ctx)
//
// # Cancellation
//
// When the context passed to Call ends, the session sends $/cancelRequest
// for the request and returns the context error. Handlers observe a
// canceled request through their context, whose cause is
// ErrRequestCanceled.
//
// # Streaming
//
// Long-running requests acknowledge with a null result and deliver output as
// notifications terminated by a null payload. Stream consumes such an
// operation on the client; a Streamer produces one on the worker.
package session
