package protocol

// ClientInfo is the caller descriptor sent with initialize.
type ClientInfo struct {
	Name             string `json:"name" jsonschema:"minLength=1"`
	Version          string `json:"version"`
	WorkspaceRootURI string `json:"workspaceRootUri"`
	// Deprecated: use WorkspaceRootURI.
	WorkspaceRootPath      string                  `json:"workspaceRootPath,omitempty"`
	ExtensionConfiguration *ExtensionConfiguration `json:"extensionConfiguration,omitempty"`
	Capabilities           *ClientCapabilities     `json:"capabilities,omitempty"`
}

// ClientCapabilities advertises optional client features.
type ClientCapabilities struct {
	Completions  string `json:"completions,omitempty" jsonschema:"enum=none"`
	Chat         string `json:"chat,omitempty" jsonschema:"enum=none,enum=streaming"`
	Git          string `json:"git,omitempty" jsonschema:"enum=none,enum=disabled"`
	ProgressBars string `json:"progressBars,omitempty" jsonschema:"enum=none,enum=enabled"`
}

// ServerInfo is the callee descriptor returned from initialize.
type ServerInfo struct {
	Name          string              `json:"name"`
	Authenticated bool                `json:"authenticated"`
	CodyEnabled   bool                `json:"codyEnabled,omitempty"`
	CodyVersion   *string             `json:"codyVersion,omitempty"`
	Capabilities  *ServerCapabilities `json:"capabilities,omitempty"`
}

// ServerCapabilities advertises optional worker features.
type ServerCapabilities struct {
	// Methods lists the request methods the worker serves beyond the
	// lifecycle ones.
	Methods []string `json:"methods,omitempty"`
}

// ExtensionConfiguration carries connection settings for the worker.
type ExtensionConfiguration struct {
	ServerEndpoint      string            `json:"serverEndpoint"`
	Proxy               string            `json:"proxy,omitempty"`
	AccessToken         string            `json:"accessToken"`
	CustomHeaders       map[string]string `json:"customHeaders,omitempty"`
	AnonymousUserID     string            `json:"anonymousUserID,omitempty"`
	Debug               bool              `json:"debug,omitempty"`
	VerboseDebug        bool              `json:"verboseDebug,omitempty"`
	Codebase            string            `json:"codebase,omitempty"`
	CustomConfiguration map[string]any    `json:"customConfiguration,omitempty"`
}

// CancelParams identifies the request a $/cancelRequest refers to. ID is a
// string or a number.
type CancelParams struct {
	ID any `json:"id" jsonschema:"oneof_type=string;integer"`
}

// EchoParams is both the params and the result of echo.
type EchoParams struct {
	Msg string `json:"msg"`
}

// RecipeInfo describes an executable recipe.
type RecipeInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ExecuteRecipeParams starts a recipe. Its output streams through
// chat/updateMessageInProgress.
type ExecuteRecipeParams struct {
	ID             string `json:"id" jsonschema:"minLength=1"`
	HumanChatInput string `json:"humanChatInput"`
	Data           any    `json:"data,omitempty"`
}

// ChatMessage is one partial assistant message. A null payload ends the
// stream.
type ChatMessage struct {
	Speaker string `json:"speaker" jsonschema:"enum=human,enum=assistant"`
	Text    string `json:"text,omitempty"`
}

// Position is a zero-based line and character offset.
type Position struct {
	Line      int `json:"line" jsonschema:"minimum=0"`
	Character int `json:"character" jsonschema:"minimum=0"`
}

// Range spans two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocument is the payload of the textDocument/* notifications.
type TextDocument struct {
	URI string `json:"uri,omitempty"`
	// Deprecated: use URI.
	FilePath  string  `json:"filePath,omitempty"`
	Content   *string `json:"content,omitempty"`
	Selection *Range  `json:"selection,omitempty"`
}

// Key returns the identifier used to track the document.
func (d TextDocument) Key() string {
	if d.URI != "" {
		return d.URI
	}
	return d.FilePath
}

// DebugMessage is free-form diagnostic output from the worker.
type DebugMessage struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// ProgressOptions describes a progress bar.
type ProgressOptions struct {
	Title          string `json:"title,omitempty"`
	Location       string `json:"location,omitempty"`
	LocationViewID string `json:"locationViewId,omitempty"`
	Cancellable    bool   `json:"cancellable,omitempty"`
}

// ProgressStartParams opens a progress bar.
type ProgressStartParams struct {
	ID      string          `json:"id"`
	Options ProgressOptions `json:"options"`
}

// ProgressReportParams updates an open progress bar.
type ProgressReportParams struct {
	ID        string `json:"id"`
	Message   string `json:"message,omitempty"`
	Increment int    `json:"increment,omitempty"`
}

// ProgressIDParams names a progress bar for progress/end and progress/cancel.
type ProgressIDParams struct {
	ID string `json:"id" jsonschema:"minLength=1"`
}

// TestingProgressParams drives the testing/progress requests.
type TestingProgressParams struct {
	Title string `json:"title"`
}

// TestingProgressResult is returned by the testing/progress requests.
type TestingProgressResult struct {
	Result string `json:"result"`
}
