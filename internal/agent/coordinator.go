package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

// CoordinatorConfig configures tool execution.
type CoordinatorConfig struct {
	// MaxConcurrency limits parallel executions within one step.
	// Default: 4
	MaxConcurrency int

	// Timeout bounds a single execution, including nested generations.
	// Default: 60s
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics Metrics
	Tracer  trace.Tracer
}

// Coordinator validates, runs and settles model-requested tool calls.
// Failures never escape as errors: they become tool results with IsError set
// so the model can recover conversationally.
type Coordinator struct {
	registry *ToolRegistry
	cfg      CoordinatorConfig
}

// NewCoordinator creates a coordinator over registry.
func NewCoordinator(registry *ToolRegistry, cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/quill/internal/agent")
	}
	return &Coordinator{registry: registry, cfg: cfg}
}

// Registry returns the registry the coordinator resolves tools from.
func (c *Coordinator) Registry() *ToolRegistry {
	return c.registry
}

// WithRegistry returns a coordinator sharing c's configuration that resolves
// tools from registry instead.
func (c *Coordinator) WithRegistry(registry *ToolRegistry) *Coordinator {
	return &Coordinator{registry: registry, cfg: c.cfg}
}

// Execution is the settled outcome of one invocation.
type Execution struct {
	Invocation *models.ToolInvocation
	Result     models.ToolResult
	// Err is the ToolError behind a failed result.
	Err      *ToolError
	Duration time.Duration
}

// ExecuteAll runs the calls of one step concurrently and returns their
// executions in call order. mux may be nil, in which case tool sub-stream
// output is discarded.
func (c *Coordinator) ExecuteAll(ctx context.Context, calls []models.ToolCall, mux *stream.Multiplexer) []Execution {
	out := make([]Execution, len(calls))
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = c.Execute(ctx, call, mux)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Execute runs one call. Generative tools find their sub-stream sink in the
// context; it is opened on first use and always finished before Execute
// returns.
func (c *Coordinator) Execute(ctx context.Context, call models.ToolCall, mux *stream.Multiplexer) Execution {
	start := time.Now()
	inv := models.NewToolInvocation(call)
	_ = inv.Advance(models.InvocationExecuting)

	ctx, span := c.cfg.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool", call.Name),
		attribute.String("tool_call_id", call.ID),
	))
	defer span.End()

	var sink stream.Sink = stream.Discard
	if mux != nil {
		lazy := stream.Lazy(mux, call.ID)
		defer lazy.Close()
		sink = lazy
	}

	result, err := c.run(stream.WithSink(ctx, sink), call)

	exec := Execution{Invocation: inv, Duration: time.Since(start)}
	status := "ok"
	if err != nil {
		toolErr, ok := GetToolError(err)
		if !ok {
			toolErr = NewToolError(call.Name, err)
		}
		toolErr.WithToolCallID(call.ID)
		exec.Err = toolErr
		exec.Result = models.ToolResult{ToolCallID: call.ID, Content: errorContent(toolErr), IsError: true}
		status = string(toolErr.Type)

		span.RecordError(err)
		span.SetStatus(codes.Error, toolErr.Error())
		c.cfg.Logger.Warn("tool execution failed",
			"error", err,
			"tool", call.Name,
			"tool_call_id", call.ID,
			"type", toolErr.Type,
		)
	} else {
		exec.Result = models.ToolResult{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}
		if result.IsError {
			status = string(ToolErrorExecution)
		}
	}
	_ = inv.Settle(exec.Result)
	c.cfg.Metrics.ObserveToolCall(call.Name, status, exec.Duration)
	return exec
}

func (c *Coordinator) run(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	tool, err := c.registry.Resolve(call.Name)
	if err != nil {
		return nil, err
	}
	params, err := c.registry.Validate(call.Name, call.Input)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- execResult{err: NewToolError(call.Name, fmt.Errorf("%w: %v", ErrToolPanic, r)).
					WithType(ToolErrorPanic)}
				c.cfg.Logger.Error("tool panicked", "tool", call.Name, "panic", r, "stack", string(stack))
			}
		}()
		result, err := tool.Execute(execCtx, params)
		if err == nil && result == nil {
			result = &ToolResult{Content: "{}"}
		}
		resultCh <- execResult{result: result, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithMessage("cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithMessage(fmt.Sprintf("execution timed out after %s", c.cfg.Timeout))
	}
}

type toolErrorBody struct {
	Error string        `json:"error"`
	Type  ToolErrorType `json:"type"`
}

// errorContent is the model-visible body of a failed invocation.
func errorContent(err *ToolError) string {
	msg := err.Message
	if msg == "" && err.Cause != nil {
		msg = err.Cause.Error()
	}
	if errors.Is(err, ErrToolPanic) {
		msg = "tool failed unexpectedly"
	}
	data, _ := json.Marshal(toolErrorBody{Error: msg, Type: err.Type})
	return string(data)
}
