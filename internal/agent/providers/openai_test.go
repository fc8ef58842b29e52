package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", Retry: fastRetry})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return p
}

func openAIData(payloads ...string) []string {
	lines := make([]string, 0, 2*len(payloads)+2)
	for _, p := range payloads {
		lines = append(lines, "data: "+p, "")
	}
	return append(lines, "data: [DONE]", "")
}

func TestOpenAIStreamsTextAndUsage(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != openai.ChatMessageRoleSystem {
			t.Errorf("system prompt not first: %+v", req.Messages)
		}
		writeSSE(w, openAIData(
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		))
	})

	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System:   "be brief",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got := collect(t, ch)
	if got.text != "Hello" {
		t.Errorf("text = %q", got.text)
	}
	if got.last == nil || !got.last.Done || got.last.InputTokens != 5 || got.last.OutputTokens != 2 {
		t.Errorf("last chunk = %+v", got.last)
	}
}

func TestOpenAIAccumulatesParallelToolCalls(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, openAIData(
			`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"searchWeb","arguments":"{\"query\":"}}]}}]}`,
			`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"getWeather","arguments":""}}]}}]}`,
			`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"go\"}"}}]}}]}`,
			`{"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	})

	ch, _ := p.Complete(context.Background(), &agent.CompletionRequest{Messages: []agent.CompletionMessage{{Role: "user", Content: "x"}}})
	got := collect(t, ch)
	if len(got.calls) != 2 {
		t.Fatalf("calls = %+v", got.calls)
	}
	if got.calls[0].ID != "call_a" || string(got.calls[0].Input) != `{}` {
		t.Errorf("first call = %+v", got.calls[0])
	}
	if got.calls[1].ID != "call_b" || string(got.calls[1].Input) != `{"query":"go"}` {
		t.Errorf("second call = %+v (input %s)", got.calls[1], got.calls[1].Input)
	}
	if got.last == nil || !got.last.Done {
		t.Errorf("last chunk = %+v", got.last)
	}
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`)
			return
		}
		writeSSE(w, openAIData(`{"id":"c3","choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	ch, _ := p.Complete(context.Background(), &agent.CompletionRequest{Messages: []agent.CompletionMessage{{Role: "user", Content: "x"}}})
	got := collect(t, ch)
	if got.text != "ok" || attempts.Load() != 3 {
		t.Errorf("text = %q after %d attempts", got.text, attempts.Load())
	}
}

func TestOpenAIBadRequestIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad tools","type":"invalid_request_error"}}`)
	})

	ch, _ := p.Complete(context.Background(), &agent.CompletionRequest{Messages: []agent.CompletionMessage{{Role: "user", Content: "x"}}})
	got := collect(t, ch)
	var pe *ProviderError
	if got.last == nil || !errors.As(got.last.Error, &pe) {
		t.Fatalf("last chunk = %+v", got.last)
	}
	if pe.Reason != ReasonInvalidRequest || attempts.Load() != 1 {
		t.Errorf("reason = %s, attempts = %d", pe.Reason, attempts.Load())
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := convertOpenAIMessages([]agent.CompletionMessage{
		{Role: "user", Content: "weather?"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a", Name: "getWeather"}, {ID: "b", Name: "getWeather", Input: []byte(`{"x":1}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}}},
	}, "")
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty input should become {}, got %q", msgs[1].ToolCalls[0].Function.Arguments)
	}
	if msgs[2].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "b" {
		t.Errorf("tool messages = %+v", msgs[2:])
	}
}
