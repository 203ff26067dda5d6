// Package tools implements the Tool Registry & Tool Contract (C1): a uniform
// definition, JSON-schema export, and safe dispatch of the tools an LLM may
// call during a Run. Execute never panics or returns a Go error — failures
// fold into a ToolResult so the agentic loop (C3) always sees a uniform
// result the model can react to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sitewright/agentcore/internal/toolerrors"
)

type (
	// Ident is a tool's globally unique name, e.g. "generate_page".
	Ident string

	// Result is the uniform outcome of a tool invocation. Artifacts carries
	// out-of-band data; a tool signals the loop should suspend by setting
	// Artifacts["blocking"] = true (used only by the ask_user tool).
	Result struct {
		Success   bool           `json:"success"`
		Output    string         `json:"output"`
		Error     string         `json:"error,omitempty"`
		Artifacts map[string]any `json:"artifacts,omitempty"`
	}

	// Blocking reports whether this result signals loop suspension.
	Blocking interface {
		Blocks() bool
	}

	// ExecContext carries everything a tool needs to execute: identity,
	// output location, and handles to the collaborators (LLM client, event
	// emitter, data access) it may call out to. It intentionally holds
	// interfaces, not concrete types, so tools can be tested with fakes.
	ExecContext struct {
		SessionID string
		RunID     string
		OutputDir string

		LLM      LLMClient
		Emitter  EventEmitter
		DataAccess any
	}

	// LLMClient is the minimal surface gentools need from the model catalog
	// (vision extraction, fast-tier classification). The full chat-completion
	// surface used by the agentic loop lives in internal/modelcat.
	LLMClient interface {
		Complete(ctx context.Context, tier string, prompt string) (string, error)
	}

	// EventEmitter is the minimal surface tools need to publish domain events
	// (page_created, product_doc_updated, …); see internal/events for the
	// full Store/Emitter contract.
	EventEmitter interface {
		Emit(ctx context.Context, eventType string, runID string, payload map[string]any) error
	}

	// ParamSchema is a declarative JSON-schema document describing a tool's
	// arguments. It is compiled once at registration time and reused for
	// every invocation.
	ParamSchema struct {
		// Raw is the JSON Schema document (draft 2020-12) for the tool's
		// parameters object.
		Raw json.RawMessage
	}

	// Tool is the polymorphic capability the LLM can invoke: a name, a
	// description, a parameter schema, and an executor. Implementations
	// must be safe for concurrent use across Runs.
	Tool interface {
		Name() Ident
		Description() string
		Schema() ParamSchema
		Execute(ctx context.Context, ectx ExecContext, arguments json.RawMessage) Result
	}

	// OpenAITool mirrors the OpenAI-compatible function-calling schema shape
	// the LLM provider protocol expects (spec.md §1: "assumed OpenAI-compatible
	// chat/tool calling").
	OpenAITool struct {
		Type     string         `json:"type"`
		Function OpenAIFunction `json:"function"`
	}

	// OpenAIFunction is the function-calling payload nested under OpenAITool.
	OpenAIFunction struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}

	// Registry holds every Tool the loop may call for a Run, keyed by name.
	Registry struct {
		mu      sync.RWMutex
		tools   map[Ident]Tool
		schemas map[Ident]*jsonschema.Schema
	}
)

// Blocks reports whether r's artifacts mark it as a suspension signal.
func (r Result) Blocks() bool {
	v, ok := r.Artifacts["blocking"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[Ident]Tool),
		schemas: make(map[Ident]*jsonschema.Schema),
	}
}

// Register adds tool to the registry. Names must be unique within a
// registry; registering a duplicate name returns an error so misconfigured
// toolsets fail fast at startup rather than silently shadowing a tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tools: nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tools: tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: tool %q already registered", name)
	}

	compiled, err := compileSchema(string(name), tool.Schema().Raw)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// GetOpenAITools serializes every registered tool's schema into the
// provider's expected function-calling shape.
func (r *Registry) GetOpenAITools() []OpenAITool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OpenAITool, 0, len(r.tools))
	for name, tool := range r.tools {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        string(name),
				Description: tool.Description(),
				Parameters:  tool.Schema().Raw,
			},
		})
	}
	return out
}

// Execute looks up name, validates arguments against its compiled schema,
// and invokes it. It never panics or returns a Go error: unknown tools,
// validation failures, and tool panics/errors all fold into a failed
// Result so the loop (and the LLM) can react uniformly.
func (r *Registry) Execute(ctx context.Context, ectx ExecContext, name Ident, arguments json.RawMessage) (result Result) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Success: false, Error: toolerrors.New(fmt.Sprintf("unknown tool %q", name)).WithCode("unknown_tool").Error()}
	}

	if schema != nil {
		if err := validateArguments(schema, arguments); err != nil {
			return Result{Success: false, Error: toolerrors.NewWithCause("invalid arguments", err).WithCode("invalid_arguments").Error()}
		}
	}

	defer func() {
		if p := recover(); p != nil {
			result = Result{Success: false, Error: fmt.Sprintf("tool %q panicked: %v", name, p)}
		}
	}()

	return tool.Execute(ctx, ectx, arguments)
}

// Lookup returns the registered tool for name, if any. Used by policy and
// telemetry layers that need metadata (description, tags) without executing.
func (r *Registry) Lookup(name Ident) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, in no particular order.
func (r *Registry) Names() []Ident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ident, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	resource := "mem://tools/" + name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resource)
}

func validateArguments(schema *jsonschema.Schema, arguments json.RawMessage) error {
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(arguments, &doc); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	return schema.Validate(doc)
}
