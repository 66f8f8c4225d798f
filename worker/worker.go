package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/agent-jsonrpc-go/jsonrpc"
	"github.com/ggoodman/agent-jsonrpc-go/protocol"
	"github.com/ggoodman/agent-jsonrpc-go/session"
)

// DefaultName is reported in ServerInfo unless overridden with WithName.
const DefaultName = "agent"

// Worker serves the agent protocol on a byte stream. By default it uses
// os.Stdin and os.Stdout.
type Worker struct {
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	name             string
	version          string
	recipes          *recipeSet
	progressInterval time.Duration
	sessionOpts      []session.Option
}

// New constructs a Worker with defaults and applies options.
func New(opts ...Option) *Worker {
	w := &Worker{
		r:                os.Stdin,
		w:                os.Stdout,
		log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		name:             DefaultName,
		recipes:          newRecipeSet(builtinRecipes()...),
		progressInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve runs one session until the controller sends exit or the stream
// ends. It returns nil after an orderly shutdown and exit.
func (w *Worker) Serve(ctx context.Context) error {
	a := &agent{
		w:    w,
		log:  w.log,
		docs: NewDocuments(),
		bars: make(map[string]context.CancelCauseFunc),
	}

	opts := append([]session.Option{
		session.WithLogger(w.log),
		session.WithInitializer(a.initialize),
	}, w.sessionOpts...)
	s, err := session.NewServer(w.r, w.w, opts...)
	if err != nil {
		return fmt.Errorf("worker session: %w", err)
	}
	a.s = s
	if err := a.register(); err != nil {
		_ = s.Close()
		return fmt.Errorf("worker handlers: %w", err)
	}

	w.log.InfoContext(ctx, "worker.serve", slog.String("session_id", s.ID()))
	err = s.Serve(ctx)
	w.log.InfoContext(ctx, "worker.done", slog.Any("err", err))
	return err
}

// agent is the per-session state of a Worker.
type agent struct {
	w   *Worker
	s   *session.Session
	log *slog.Logger

	docs *Documents

	mu         sync.Mutex
	config     *protocol.ExtensionConfiguration
	transcript []protocol.ChatMessage
	bars       map[string]context.CancelCauseFunc
}

func (a *agent) register() error {
	reqs := []struct {
		method protocol.Method
		h      session.RequestHandler
	}{
		{protocol.EchoMethod, session.HandleRequestFunc(a.echo)},
		{protocol.RecipesListMethod, session.HandleRequestFunc(a.listRecipes)},
		{protocol.RecipesExecuteMethod, session.HandleRequestFunc(a.executeRecipe)},
		{protocol.TestingProgressMethod, session.HandleRequestFunc(a.testingProgress)},
		{protocol.TestingProgressCancelationMethod, session.HandleRequestFunc(a.testingProgressCancelation)},
	}
	for _, r := range reqs {
		if err := a.s.HandleRequest(r.method, r.h); err != nil {
			return err
		}
	}

	notes := []struct {
		method protocol.Method
		h      session.NotificationHandler
	}{
		{protocol.TextDocumentDidOpenNotificationMethod, session.HandleNotificationFunc(a.didOpen)},
		{protocol.TextDocumentDidChangeNotificationMethod, session.HandleNotificationFunc(a.didChange)},
		{protocol.TextDocumentDidFocusNotificationMethod, session.HandleNotificationFunc(a.didFocus)},
		{protocol.TextDocumentDidCloseNotificationMethod, session.HandleNotificationFunc(a.didClose)},
		{protocol.ExtensionConfigurationDidChangeNotificationMethod, session.HandleNotificationFunc(a.didChangeConfiguration)},
		{protocol.TranscriptResetNotificationMethod, session.HandleNotificationFunc(a.resetTranscript)},
		{protocol.ProgressCancelNotificationMethod, session.HandleNotificationFunc(a.cancelProgress)},
	}
	for _, n := range notes {
		if err := a.s.HandleNotification(n.method, n.h); err != nil {
			return err
		}
	}
	return nil
}

// methods lists the request methods advertised in ServerCapabilities.
func (a *agent) methods() []string {
	return []string{
		string(protocol.EchoMethod),
		string(protocol.RecipesListMethod),
		string(protocol.RecipesExecuteMethod),
		string(protocol.TestingProgressMethod),
		string(protocol.TestingProgressCancelationMethod),
	}
}

func (a *agent) initialize(ctx context.Context, info protocol.ClientInfo) (protocol.ServerInfo, error) {
	a.mu.Lock()
	if info.ExtensionConfiguration != nil {
		cfg := *info.ExtensionConfiguration
		a.config = &cfg
	}
	authenticated := a.config != nil && a.config.AccessToken != ""
	a.mu.Unlock()

	a.log.InfoContext(ctx, "worker.handshake",
		slog.String("client", info.Name),
		slog.String("client_version", info.Version),
		slog.String("workspace_root", info.WorkspaceRootURI))

	si := protocol.ServerInfo{
		Name:          a.w.name,
		Authenticated: authenticated,
		CodyEnabled:   authenticated,
		Capabilities:  &protocol.ServerCapabilities{Methods: a.methods()},
	}
	if a.w.version != "" {
		v := a.w.version
		si.CodyVersion = &v
	}
	return si, nil
}

func (a *agent) echo(_ context.Context, p protocol.EchoParams) (protocol.EchoParams, error) {
	return p, nil
}

func (a *agent) listRecipes(context.Context, any) ([]protocol.RecipeInfo, error) {
	return a.w.recipes.list(), nil
}

// executeRecipe streams the recipe's answer as a growing assistant message
// on chat/updateMessageInProgress, ends the stream with null and then
// acknowledges with a null result.
func (a *agent) executeRecipe(ctx context.Context, p protocol.ExecuteRecipeParams) (any, error) {
	recipe, ok := a.w.recipes.get(p.ID)
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "unknown recipe: "+p.ID, nil)
	}

	in := RecipeInput{HumanChatInput: p.HumanChatInput, Data: p.Data}
	if doc, ok := a.docs.Focused(); ok {
		in.Document = &doc
	}

	a.mu.Lock()
	a.transcript = append(a.transcript, protocol.ChatMessage{Speaker: "human", Text: p.HumanChatInput})
	a.mu.Unlock()

	st := a.s.NewStreamer(protocol.ChatUpdateMessageInProgressNotificationMethod)
	defer func() {
		if err := st.End(context.WithoutCancel(ctx)); err != nil {
			a.log.WarnContext(ctx, "worker.recipe.end.err", slog.String("err", err.Error()))
		}
	}()

	var text strings.Builder
	err := recipe.Run(ctx, in, func(chunk string) error {
		text.WriteString(chunk)
		return st.Partial(ctx, protocol.ChatMessage{Speaker: "assistant", Text: text.String()})
	})

	a.mu.Lock()
	a.transcript = append(a.transcript, protocol.ChatMessage{Speaker: "assistant", Text: text.String()})
	a.mu.Unlock()

	if err != nil {
		a.log.InfoContext(ctx, "worker.recipe.fail", slog.String("recipe", p.ID), slog.String("err", err.Error()))
		return nil, err
	}
	a.debug(ctx, "recipe %s produced %d bytes", p.ID, text.Len())
	return nil, nil
}

func (a *agent) didOpen(_ context.Context, doc protocol.TextDocument)   { a.docs.Open(doc) }
func (a *agent) didChange(_ context.Context, doc protocol.TextDocument) { a.docs.Change(doc) }
func (a *agent) didFocus(_ context.Context, doc protocol.TextDocument)  { a.docs.Focus(doc) }
func (a *agent) didClose(_ context.Context, doc protocol.TextDocument)  { a.docs.Close(doc) }

func (a *agent) didChangeConfiguration(ctx context.Context, cfg protocol.ExtensionConfiguration) {
	a.mu.Lock()
	a.config = &cfg
	a.mu.Unlock()
	a.debug(ctx, "configuration updated for %s", cfg.ServerEndpoint)
}

func (a *agent) resetTranscript(context.Context, any) {
	a.mu.Lock()
	a.transcript = nil
	a.mu.Unlock()
}

// debug sends a debug/message notification when the controller enabled
// debug output in its configuration.
func (a *agent) debug(ctx context.Context, format string, args ...any) {
	a.mu.Lock()
	enabled := a.config != nil && a.config.Debug
	a.mu.Unlock()
	if !enabled {
		return
	}
	msg := protocol.DebugMessage{Channel: "agent", Message: fmt.Sprintf(format, args...)}
	if err := a.s.Notify(context.WithoutCancel(ctx), protocol.DebugMessageNotificationMethod, msg); err != nil {
		a.log.DebugContext(ctx, "worker.debug.err", slog.String("err", err.Error()))
	}
}
