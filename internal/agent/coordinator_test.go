package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var objectSchema = json.RawMessage(`{"type":"object"}`)

func newCoordinator(t *testing.T, tools ...Tool) *Coordinator {
	t.Helper()
	r := NewToolRegistry()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return NewCoordinator(r, CoordinatorConfig{Timeout: 200 * time.Millisecond})
}

func call(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestCoordinator_Execute(t *testing.T) {
	var ran atomic.Int32
	weather := newWeatherTool()
	weather.fn = func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		ran.Add(1)
		return &ToolResult{Content: `{"temperature":18}`}, nil
	}
	missing := &funcTool{name: "updateDocument", schema: objectSchema, fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
		return nil, fmt.Errorf("%w: document d1", ErrNotFound)
	}}
	panicky := &funcTool{name: "explode", schema: objectSchema, fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
		panic("kaboom")
	}}
	slow := &funcTool{name: "slow", schema: objectSchema, fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newCoordinator(t, weather, missing, panicky, slow)

	tests := []struct {
		name      string
		call      models.ToolCall
		wantType  ToolErrorType
		wantState models.InvocationState
		wantBody  string
	}{
		{
			name:      "success",
			call:      call("c1", "getWeather", `{"latitude":37.77,"longitude":-122.42}`),
			wantState: models.InvocationCompleted,
			wantBody:  `{"temperature":18}`,
		},
		{
			name:      "invalid arguments",
			call:      call("c2", "getWeather", `{"latitude":"x"}`),
			wantType:  ToolErrorInvalidArguments,
			wantState: models.InvocationFailed,
		},
		{
			name:      "unknown tool",
			call:      call("c3", "deleteEverything", `{}`),
			wantType:  ToolErrorNotFound,
			wantState: models.InvocationFailed,
		},
		{
			name:      "resource not found",
			call:      call("c4", "updateDocument", `{}`),
			wantType:  ToolErrorResourceNotFound,
			wantState: models.InvocationFailed,
		},
		{
			name:      "panic",
			call:      call("c5", "explode", `{}`),
			wantType:  ToolErrorPanic,
			wantState: models.InvocationFailed,
			wantBody:  `{"error":"tool failed unexpectedly","type":"panic"}`,
		},
		{
			name:      "timeout",
			call:      call("c6", "slow", `{}`),
			wantType:  ToolErrorTimeout,
			wantState: models.InvocationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := c.Execute(context.Background(), tt.call, nil)
			if exec.Invocation.State != tt.wantState {
				t.Errorf("state = %q, want %q", exec.Invocation.State, tt.wantState)
			}
			if exec.Result.ToolCallID != tt.call.ID {
				t.Errorf("ToolCallID = %q, want %q", exec.Result.ToolCallID, tt.call.ID)
			}
			if tt.wantType == "" {
				if exec.Err != nil || exec.Result.IsError {
					t.Fatalf("unexpected failure: %v", exec.Err)
				}
			} else {
				if exec.Err == nil || exec.Err.Type != tt.wantType {
					t.Fatalf("Err = %v, want type %q", exec.Err, tt.wantType)
				}
				if !exec.Result.IsError {
					t.Error("failed execution must produce an error result")
				}
				var body toolErrorBody
				if err := json.Unmarshal([]byte(exec.Result.Content), &body); err != nil || body.Error == "" {
					t.Errorf("error body = %s", exec.Result.Content)
				}
			}
			if tt.wantBody != "" && exec.Result.Content != tt.wantBody {
				t.Errorf("Content = %s, want %s", exec.Result.Content, tt.wantBody)
			}
		})
	}

	if ran.Load() != 1 {
		t.Errorf("weather tool ran %d times, want 1 (invalid arguments must not execute)", ran.Load())
	}
}

func TestCoordinator_SubStreamAlwaysFinishes(t *testing.T) {
	drafting := &funcTool{name: "draft", schema: objectSchema, fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		sink := stream.SinkFromContext(ctx)
		_ = sink.Append(ctx, models.NewStreamEvent(models.StreamClear, ""))
		_ = sink.Append(ctx, models.TextDelta("partial"))
		return nil, errors.New("nested generation failed")
	}}
	quiet := &funcTool{name: "quiet", schema: objectSchema}
	c := newCoordinator(t, drafting, quiet)

	var buf bytes.Buffer
	mux := stream.New(&buf, stream.Config{})
	execs := c.ExecuteAll(context.Background(), []models.ToolCall{
		call("d1", "draft", `{}`),
		call("q1", "quiet", `{}`),
	}, mux)
	_ = mux.Close(nil)

	if !execs[0].Result.IsError || execs[1].Result.IsError {
		t.Fatalf("results = %+v", execs)
	}
	frames, err := stream.ReadFrames(&buf)
	if err != nil {
		t.Fatalf("ReadFrames() error = %v", err)
	}
	grouped := stream.ByStream(frames)
	draft := grouped["d1"]
	if len(draft) != 3 || draft[2].Kind != models.StreamFinish {
		t.Errorf("draft sub-stream = %+v, want clear, text-delta, finish", draft)
	}
	if _, ok := grouped["q1"]; ok {
		t.Error("a tool that emits nothing should not open a sub-stream")
	}
}

func TestCoordinator_ExecuteAllRunsConcurrentlyInOrder(t *testing.T) {
	started := make(chan string, 2)
	proceed := make(chan struct{})
	rendezvous := func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		var args struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(params, &args)
		started <- args.Name
		select {
		case <-proceed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &ToolResult{Content: fmt.Sprintf("%q", args.Name)}, nil
	}
	c := newCoordinator(t, &funcTool{name: "meet", schema: objectSchema, fn: rendezvous})

	go func() {
		<-started
		<-started
		close(proceed)
	}()

	execs := c.ExecuteAll(context.Background(), []models.ToolCall{
		call("a", "meet", `{"name":"first"}`),
		call("b", "meet", `{"name":"second"}`),
	}, nil)

	var got []string
	for _, e := range execs {
		if e.Err != nil {
			t.Fatalf("execution failed: %v (calls were not concurrent)", e.Err)
		}
		got = append(got, e.Result.Content)
	}
	if strings.Join(got, ",") != `"first","second"` {
		t.Errorf("results = %v, want call order", got)
	}
}

func TestCoordinator_CancelledContext(t *testing.T) {
	slow := &funcTool{name: "slow", schema: objectSchema, fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewCoordinator(NewToolRegistry(), CoordinatorConfig{Timeout: time.Minute})
	c.registry.MustRegister(slow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := c.Execute(ctx, call("s", "slow", `{}`), nil)
	if exec.Err == nil || exec.Err.Type != ToolErrorTimeout {
		t.Errorf("Err = %v, want cancellation", exec.Err)
	}
}
