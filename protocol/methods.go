package protocol

// Method is an agent protocol method identifier used in JSON-RPC messages.
type Method string

// Agent protocol method names and notifications.
const (
	// Lifecycle
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "initialized"
	ShutdownMethod                Method = "shutdown"
	ExitNotificationMethod        Method = "exit"

	// Cancellation
	CancelRequestNotificationMethod Method = "$/cancelRequest"

	// Diagnostics
	EchoMethod                     Method = "echo"
	DebugMessageNotificationMethod Method = "debug/message"

	// Recipes
	RecipesListMethod                             Method = "recipes/list"
	RecipesExecuteMethod                          Method = "recipes/execute"
	ChatUpdateMessageInProgressNotificationMethod Method = "chat/updateMessageInProgress"
	TranscriptResetNotificationMethod             Method = "transcript/reset"

	// Documents and configuration
	TextDocumentDidOpenNotificationMethod             Method = "textDocument/didOpen"
	TextDocumentDidChangeNotificationMethod           Method = "textDocument/didChange"
	TextDocumentDidFocusNotificationMethod            Method = "textDocument/didFocus"
	TextDocumentDidCloseNotificationMethod            Method = "textDocument/didClose"
	ExtensionConfigurationDidChangeNotificationMethod Method = "extensionConfiguration/didChange"

	// Progress
	ProgressStartNotificationMethod  Method = "progress/start"
	ProgressReportNotificationMethod Method = "progress/report"
	ProgressEndNotificationMethod    Method = "progress/end"
	ProgressCancelNotificationMethod Method = "progress/cancel"

	// Testing
	TestingProgressMethod            Method = "testing/progress"
	TestingProgressCancelationMethod Method = "testing/progressCancelation"
)

// Direction says which side originates a method.
type Direction string

const (
	ClientToServer Direction = "client->server"
	ServerToClient Direction = "server->client"
	Both           Direction = "both"
)

// Kind says whether a method is a request or a notification.
type Kind string

const (
	Request      Kind = "request"
	Notification Kind = "notification"
)

// MethodInfo describes one entry of the method table.
type MethodInfo struct {
	Method    Method
	Direction Direction
	Kind      Kind
	// Params and Result are the payload type names, "null" for no payload.
	Params string
	Result string
	// Streams names the notification that carries the output of a
	// long-running request.
	Streams Method
}

// Methods is the method table of the agent protocol.
var Methods = []MethodInfo{
	{Method: InitializeMethod, Direction: ClientToServer, Kind: Request, Params: "ClientInfo", Result: "ServerInfo"},
	{Method: InitializedNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "null"},
	{Method: ShutdownMethod, Direction: ClientToServer, Kind: Request, Params: "null", Result: "null"},
	{Method: ExitNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "null"},
	{Method: CancelRequestNotificationMethod, Direction: Both, Kind: Notification, Params: "CancelParams"},
	{Method: EchoMethod, Direction: ClientToServer, Kind: Request, Params: "EchoParams", Result: "EchoParams"},
	{Method: RecipesListMethod, Direction: ClientToServer, Kind: Request, Params: "null", Result: "[]RecipeInfo"},
	{Method: RecipesExecuteMethod, Direction: ClientToServer, Kind: Request, Params: "ExecuteRecipeParams", Result: "null", Streams: ChatUpdateMessageInProgressNotificationMethod},
	{Method: TranscriptResetNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "null"},
	{Method: TextDocumentDidOpenNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "TextDocument"},
	{Method: TextDocumentDidChangeNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "TextDocument"},
	{Method: TextDocumentDidFocusNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "TextDocument"},
	{Method: TextDocumentDidCloseNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "TextDocument"},
	{Method: ExtensionConfigurationDidChangeNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "ExtensionConfiguration"},
	{Method: ProgressCancelNotificationMethod, Direction: ClientToServer, Kind: Notification, Params: "ProgressIDParams"},
	{Method: TestingProgressMethod, Direction: ClientToServer, Kind: Request, Params: "TestingProgressParams", Result: "TestingProgressResult"},
	{Method: TestingProgressCancelationMethod, Direction: ClientToServer, Kind: Request, Params: "TestingProgressParams", Result: "TestingProgressResult"},
	{Method: ChatUpdateMessageInProgressNotificationMethod, Direction: ServerToClient, Kind: Notification, Params: "ChatMessage|null"},
	{Method: DebugMessageNotificationMethod, Direction: ServerToClient, Kind: Notification, Params: "DebugMessage"},
	{Method: ProgressStartNotificationMethod, Direction: ServerToClient, Kind: Notification, Params: "ProgressStartParams"},
	{Method: ProgressReportNotificationMethod, Direction: ServerToClient, Kind: Notification, Params: "ProgressReportParams"},
	{Method: ProgressEndNotificationMethod, Direction: ServerToClient, Kind: Notification, Params: "ProgressIDParams"},
}

// Lookup returns the table entry for m.
func Lookup(m Method) (MethodInfo, bool) {
	for _, info := range Methods {
		if info.Method == m {
			return info, true
		}
	}
	return MethodInfo{}, false
}
