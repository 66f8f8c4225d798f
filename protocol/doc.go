// Package protocol contains the method names and payload types of the agent
// JSON-RPC protocol. A controller (CLI, test harness or editor integration)
// drives a headless agent worker with these methods, and the worker streams
// results back as notifications.
//
// The package holds no transport logic. The session package frames, routes
// and correlates messages; business logic registers handlers for the methods
// named here and otherwise treats payloads as opaque.
//
// # Method Names
//
// Method and notification names are enumerated as Method constants (e.g.
// EchoMethod). Methods is the table of every method with its direction,
// kind and payload type names; the agent CLI prints it with "agent methods".
//
// # Lifecycle
//
// A session starts with the initialize request (ClientInfo in, ServerInfo
// out) followed by the initialized notification. It ends with the shutdown
// request followed by the exit notification.
//
// # Streaming
//
// Long-running requests such as recipes/execute answer with a null result and
// deliver their output as notifications, ended by a null payload:
//
//	client --- recipes/execute --> worker
//	client <-- chat/updateMessageInProgress {"speaker":"assistant","text":"He"}
//	client <-- chat/updateMessageInProgress {"speaker":"assistant","text":"Hello"}
//	client <-- chat/updateMessageInProgress null
//
// The notifications do not carry the id of the request that started them, so
// a caller must not overlap two operations streaming on the same method.
//
// # Validation
//
// Registry reflects a JSON Schema for each params type and validates incoming
// params before a handler runs. DefaultRegistry covers every method in the
// table that takes params.
package protocol
