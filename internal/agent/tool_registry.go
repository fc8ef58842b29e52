package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Registration compiles each tool's schema once; lookups are side-effect free.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool to the registry by its name. A tool with the same name
// is replaced. The tool's schema must compile.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = registeredTool{tool: tool, schema: schema}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *ToolRegistry) MustRegister(tools ...Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the named tool or a not_found ToolError.
func (r *ToolRegistry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewToolError(name, ErrToolNotFound).WithType(ToolErrorNotFound)
	}
	return entry.tool, nil
}

// Validate checks untrusted, model-supplied arguments against the named
// tool's schema. Empty arguments are treated as an empty object. The
// normalized arguments are returned on success.
func (r *ToolRegistry) Validate(name string, params json.RawMessage) (json.RawMessage, error) {
	if len(name) > MaxToolNameLength {
		return nil, NewToolError(name, ErrToolNotFound).
			WithType(ToolErrorNotFound).
			WithMessage(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(params) > MaxToolParamsSize {
		return nil, invalidArguments(name, fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize))
	}

	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewToolError(name, ErrToolNotFound).WithType(ToolErrorNotFound)
	}

	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, invalidArguments(name, fmt.Errorf("arguments are not valid JSON: %w", err))
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return nil, invalidArguments(name, err)
	}
	return json.RawMessage(trimmed), nil
}

func invalidArguments(name string, cause error) *ToolError {
	return NewToolError(name, cause).WithType(ToolErrorInvalidArguments)
}

// Declarations returns the registered tools in registration order.
func (r *ToolRegistry) Declarations() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// Subset returns a registry view holding only the named tools. Unknown names
// are ignored.
func (r *ToolRegistry) Subset(names []string) *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := NewToolRegistry()
	for _, name := range names {
		entry, ok := r.tools[name]
		if !ok {
			continue
		}
		if _, dup := sub.tools[name]; dup {
			continue
		}
		sub.tools[name] = entry
		sub.order = append(sub.order, name)
	}
	return sub
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SchemaFor reflects the JSON Schema of an argument struct. Fields without
// omitempty are required and unknown properties are rejected.
func SchemaFor[T any]() json.RawMessage {
	reflector := &invjsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return data
}
