package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists the schema violations of one params payload.
type ValidationError struct {
	Method     string   `json:"method"`
	Violations []string `json:"violations"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid params for %s: %s", e.Method, strings.Join(e.Violations, "; "))
}

// ErrorData is attached as the data member of InvalidParams responses.
func (e *ValidationError) ErrorData() any {
	return e
}

type compiledSchema struct {
	raw    json.RawMessage
	schema *gojsonschema.Schema
}

// Registry maps methods to the JSON Schema of their params.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*compiledSchema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*compiledSchema)}
}

// Register derives the params schema for method from the Go type of v.
// Additional properties are allowed so peers can evolve payloads.
func (r *Registry) Register(method Method, v any) error {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := reflector.Reflect(v)
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", method, err)
	}
	return r.RegisterRaw(method, raw)
}

// RegisterRaw compiles a hand-written JSON Schema for method.
func (r *Registry) RegisterRaw(method Method, schema json.RawMessage) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", method, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[string(method)] = &compiledSchema{raw: schema, schema: compiled}
	return nil
}

// Schema returns the raw schema registered for method.
func (r *Registry) Schema(method Method) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[string(method)]
	if !ok {
		return nil, false
	}
	return s.raw, true
}

// Validate checks params against the schema of method. Methods without a
// schema accept anything. Absent params are validated as null.
func (r *Registry) Validate(method string, params json.RawMessage) error {
	r.mu.RLock()
	s, ok := r.schemas[method]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	doc := params
	if len(doc) == 0 {
		doc = json.RawMessage("null")
	}
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{Method: method, Violations: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &ValidationError{Method: method, Violations: violations}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the shared registry covering every protocol method
// that carries params. It panics if a built-in schema fails to compile.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		for method, v := range map[Method]any{
			InitializeMethod:                                  new(ClientInfo),
			CancelRequestNotificationMethod:                   new(CancelParams),
			EchoMethod:                                        new(EchoParams),
			RecipesExecuteMethod:                              new(ExecuteRecipeParams),
			TextDocumentDidOpenNotificationMethod:             new(TextDocument),
			TextDocumentDidChangeNotificationMethod:           new(TextDocument),
			TextDocumentDidFocusNotificationMethod:            new(TextDocument),
			TextDocumentDidCloseNotificationMethod:            new(TextDocument),
			ExtensionConfigurationDidChangeNotificationMethod: new(ExtensionConfiguration),
			DebugMessageNotificationMethod:                    new(DebugMessage),
			ProgressStartNotificationMethod:                   new(ProgressStartParams),
			ProgressReportNotificationMethod:                  new(ProgressReportParams),
			ProgressEndNotificationMethod:                     new(ProgressIDParams),
			ProgressCancelNotificationMethod:                  new(ProgressIDParams),
			TestingProgressMethod:                             new(TestingProgressParams),
			TestingProgressCancelationMethod:                  new(TestingProgressParams),
		} {
			if err := r.Register(method, v); err != nil {
				panic(err)
			}
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
