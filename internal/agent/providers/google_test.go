package providers

import (
	"context"
	"testing"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/pkg/models"
	"google.golang.org/genai"
)

func TestNewGoogleProviderRequiresKey(t *testing.T) {
	if _, err := NewGoogleProvider(context.Background(), GoogleConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvertGeminiContents(t *testing.T) {
	contents := convertGeminiContents([]agent.CompletionMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "weather?"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a", Name: "getWeather", Input: []byte(`{"latitude":1}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "a", Content: `{"temp":20}`},
			{ToolCallID: "a", Content: "boom", IsError: true},
		}},
	})
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall.Args["latitude"] != float64(1) {
		t.Errorf("model content = %+v", contents[1])
	}
	results := contents[2].Parts
	if results[0].FunctionResponse.Name != "getWeather" || results[0].FunctionResponse.Response["temp"] != float64(20) {
		t.Errorf("function response = %+v", results[0].FunctionResponse)
	}
	if _, ok := results[1].FunctionResponse.Response["error"]; !ok {
		t.Errorf("error result should be wrapped, got %+v", results[1].FunctionResponse.Response)
	}
}

func TestGeminiChunk(t *testing.T) {
	if geminiChunk(nil) != nil || geminiChunk(&genai.Part{Text: "thinking", Thought: true}) != nil {
		t.Error("nil and thought parts must produce no chunk")
	}
	if c := geminiChunk(&genai.Part{Text: "hi"}); c == nil || c.Text != "hi" {
		t.Errorf("text chunk = %+v", c)
	}
	c := geminiChunk(&genai.Part{FunctionCall: &genai.FunctionCall{Name: "getWeather"}})
	if c == nil || c.ToolCall == nil {
		t.Fatalf("call chunk = %+v", c)
	}
	if c.ToolCall.ID == "" || string(c.ToolCall.Input) != `{}` {
		t.Errorf("call = %+v", c.ToolCall)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	cfg := buildGeminiConfig(&agent.CompletionRequest{System: "sys", MaxTokens: 100})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("system = %+v", cfg.SystemInstruction)
	}
	if cfg.MaxOutputTokens != 100 || cfg.Tools != nil {
		t.Errorf("config = %+v", cfg)
	}
}
