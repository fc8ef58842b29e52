package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type weatherArgs struct {
	Latitude  float64 `json:"latitude" jsonschema:"minimum=-90,maximum=90"`
	Longitude float64 `json:"longitude" jsonschema:"minimum=-180,maximum=180"`
}

type funcTool struct {
	name   string
	schema json.RawMessage
	fn     func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (t *funcTool) Name() string            { return t.name }
func (t *funcTool) Description() string     { return "test tool " + t.name }
func (t *funcTool) Schema() json.RawMessage { return t.schema }
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if t.fn == nil {
		return &ToolResult{Content: `{"ok":true}`}, nil
	}
	return t.fn(ctx, params)
}

func newWeatherTool() *funcTool {
	return &funcTool{name: "getWeather", schema: SchemaFor[weatherArgs]()}
}

func TestSchemaFor(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal(SchemaFor[weatherArgs](), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("schema should not carry $schema")
	}
	required, _ := schema["required"].([]any)
	if len(required) != 2 {
		t.Errorf("required = %v, want latitude and longitude", required)
	}
	if schema["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", schema["additionalProperties"])
	}
}

func TestToolRegistry_Resolve(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(newWeatherTool()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tool, err := r.Resolve("getWeather")
	if err != nil || tool.Name() != "getWeather" {
		t.Fatalf("Resolve() = %v, %v", tool, err)
	}

	_, err = r.Resolve("launchRockets")
	toolErr, ok := GetToolError(err)
	if !ok || toolErr.Type != ToolErrorNotFound {
		t.Fatalf("Resolve(unknown) error = %v, want not_found ToolError", err)
	}
}

func TestToolRegistry_Validate(t *testing.T) {
	r := NewToolRegistry()
	r.MustRegister(newWeatherTool())

	tests := []struct {
		name     string
		tool     string
		params   string
		wantType ToolErrorType
	}{
		{name: "valid", tool: "getWeather", params: `{"latitude":37.77,"longitude":-122.42}`},
		{name: "missing field", tool: "getWeather", params: `{"latitude":37.77}`, wantType: ToolErrorInvalidArguments},
		{name: "wrong type", tool: "getWeather", params: `{"latitude":"north","longitude":1}`, wantType: ToolErrorInvalidArguments},
		{name: "out of range", tool: "getWeather", params: `{"latitude":137,"longitude":1}`, wantType: ToolErrorInvalidArguments},
		{name: "extra field", tool: "getWeather", params: `{"latitude":1,"longitude":1,"x":1}`, wantType: ToolErrorInvalidArguments},
		{name: "malformed json", tool: "getWeather", params: `{"latitude":`, wantType: ToolErrorInvalidArguments},
		{name: "empty is object", tool: "getWeather", params: ``, wantType: ToolErrorInvalidArguments},
		{name: "unknown tool", tool: "nope", params: `{}`, wantType: ToolErrorNotFound},
		{name: "long name", tool: strings.Repeat("x", MaxToolNameLength+1), params: `{}`, wantType: ToolErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Validate(tt.tool, json.RawMessage(tt.params))
			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			toolErr, ok := GetToolError(err)
			if !ok {
				t.Fatalf("Validate() error = %v, want ToolError", err)
			}
			if toolErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", toolErr.Type, tt.wantType)
			}
		})
	}
}

func TestToolRegistry_RejectsBadSchema(t *testing.T) {
	r := NewToolRegistry()
	err := r.Register(&funcTool{name: "broken", schema: json.RawMessage(`{"type":12}`)})
	if err == nil {
		t.Fatal("Register() should reject an invalid schema")
	}
}

func TestToolRegistry_DeclarationsAndSubset(t *testing.T) {
	r := NewToolRegistry()
	schema := json.RawMessage(`{"type":"object"}`)
	r.MustRegister(
		&funcTool{name: "b", schema: schema},
		&funcTool{name: "a", schema: schema},
		&funcTool{name: "c", schema: schema},
	)

	var names []string
	for _, tool := range r.Declarations() {
		names = append(names, tool.Name())
	}
	if strings.Join(names, ",") != "b,a,c" {
		t.Errorf("Declarations() order = %v, want registration order", names)
	}

	sub := r.Subset([]string{"c", "missing", "b", "c"})
	if sub.Len() != 2 {
		t.Fatalf("Subset().Len() = %d, want 2", sub.Len())
	}
	if _, err := sub.Resolve("a"); err == nil {
		t.Error("subset should not expose tool a")
	}
}
