// Package toolregistry builds and validates the ToolDefinition set a
// Request advertises to the model, and validates model-emitted call
// arguments against each tool's declared JSON schema before dispatch
// (spec §4.4 step 3).
package toolregistry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taipm/llmgateway"
)

// Tool is a registered function the model may call: its schema (for
// building ToolDefinition and for argument validation) plus its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
	Required    []string
	Handler     func(arguments string) (string, error)

	schema *jsonschema.Schema
}

// NewTool builds a Tool with an empty object schema; use AddParameter to
// populate it or set Parameters directly for a hand-written schema.
func NewTool(name, description string) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// AddParameter adds a property to the tool's parameter schema.
func (t *Tool) AddParameter(name string, schema map[string]any, required bool) *Tool {
	props, _ := t.Parameters["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		t.Parameters["properties"] = props
	}
	props[name] = schema
	if required {
		t.Required = append(t.Required, name)
	}
	return t
}

// WithHandler sets the function this tool invokes when called.
func (t *Tool) WithHandler(handler func(arguments string) (string, error)) *Tool {
	t.Handler = handler
	return t
}

// Definition builds the canonical ToolDefinition sent to an adapter.
func (t *Tool) Definition() llmgateway.ToolDefinition {
	return llmgateway.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
		Required:    t.Required,
	}
}

// Registry is the process-wide set of tools a Model's requests may declare,
// keyed by name. Registration happens at startup; lookups and validation
// happen on every tool call, so access is guarded by a RWMutex.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles t's JSON schema and adds it under t.Name, replacing any
// previous registration for that name.
func (r *Registry) Register(t *Tool) error {
	compiled, err := compileSchema(t.Parameters, t.Required)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema for %q: %w", t.Name, err)
	}
	t.schema = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the ToolDefinition for every registered tool, for
// attaching to a Request.
func (r *Registry) Definitions() []llmgateway.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmgateway.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}

// Validate checks a tool call's raw JSON arguments against the registered
// tool's schema, returning a descriptive error on mismatch (spec §4.4 step
// 3: validation failures synthesize an error tool result rather than
// aborting the loop, so callers wrap this error into that result instead of
// propagating it).
func (r *Registry) Validate(name, arguments string) error {
	t, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("toolregistry: no tool registered with name %q", name)
	}
	if t.schema == nil {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
		return fmt.Errorf("toolregistry: arguments not valid JSON: %w", err)
	}
	if err := t.schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolregistry: arguments failed schema validation: %w", err)
	}
	return nil
}

// compileSchema builds a santhosh-tekuri/jsonschema/v6 Schema from a raw
// JSON-schema-shaped map plus a required-fields list, compiling it once at
// registration time so Validate's hot path never reparses the schema.
func compileSchema(parameters map[string]any, required []string) (*jsonschema.Schema, error) {
	doc := map[string]any{}
	for k, v := range parameters {
		doc[k] = v
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	if _, ok := doc["type"]; !ok {
		doc["type"] = "object"
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var jsonDoc any
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://tool-schema.json"
	if err := compiler.AddResource(resourceURL, jsonDoc); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}
