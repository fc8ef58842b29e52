package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for turn operations
var (
	// ErrNoUserMessage indicates the request carried no user message
	ErrNoUserMessage = errors.New("no user message found")

	// ErrModelNotFound indicates the requested model id is not in the catalog
	ErrModelNotFound = errors.New("model not found")

	// ErrUnauthorized indicates a missing principal or an ownership mismatch
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates a referenced chat or document does not exist
	ErrNotFound = errors.New("not found")

	// ErrEmptyContent indicates a document exists but has no content
	ErrEmptyContent = errors.New("document has no content")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrStreamConsumed indicates an EventStream was resumed out of turn
	ErrStreamConsumed = errors.New("event stream is not awaiting tool results")
)

// Kind classifies turn-level failures for HTTP mapping and logging.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindUnauthorized  Kind = "unauthorized"
	KindToolExecution Kind = "tool_execution"
	KindUpstreamModel Kind = "upstream_model"
	KindPersistence   Kind = "persistence"
	KindInternal      Kind = "internal"
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidArguments indicates the model supplied arguments that
	// do not match the tool's schema
	ToolErrorInvalidArguments ToolErrorType = "invalid_arguments"

	// ToolErrorResourceNotFound indicates the tool's target resource is absent
	ToolErrorResourceNotFound ToolErrorType = "resource_not_found"

	// ToolErrorUnauthorized indicates the principal does not own the target
	ToolErrorUnauthorized ToolErrorType = "unauthorized"

	// ToolErrorEmptyContent indicates the target document has no content
	ToolErrorEmptyContent ToolErrorType = "empty_content"

	// ToolErrorTimeout indicates the tool timed out
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorExecution indicates a runtime error during execution
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked
	ToolErrorPanic ToolErrorType = "panic"
)

// ToolError represents a structured failure of one tool invocation. It is
// reported back to the model as a tool result rather than aborting the turn.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError, classifying the cause.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorExecution,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// WithType sets the error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable error message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func classifyToolError(err error) ToolErrorType {
	var toolErr *ToolError
	switch {
	case errors.As(err, &toolErr):
		return toolErr.Type
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrNotFound):
		return ToolErrorResourceNotFound
	case errors.Is(err, ErrUnauthorized):
		return ToolErrorUnauthorized
	case errors.Is(err, ErrEmptyContent):
		return ToolErrorEmptyContent
	}
	return ToolErrorExecution
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// TurnState is a state of the turn state machine.
type TurnState string

const (
	StateIdle          TurnState = "idle"
	StateAwaitingModel TurnState = "awaiting_model"
	StateExecutingTool TurnState = "executing_tool"
	StateFinalizing    TurnState = "finalizing"
	StateDone          TurnState = "done"
	StateErrored       TurnState = "errored"
)

// TurnError is a turn-level failure annotated with the state it happened in.
type TurnError struct {
	Kind    Kind
	State   TurnState
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Message != "" && e.Cause != nil {
		return fmt.Sprintf("turn %s at %s: %s: %v", e.Kind, e.State, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("turn %s at %s: %s", e.Kind, e.State, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("turn %s at %s: %v", e.Kind, e.State, e.Cause)
	}
	return fmt.Sprintf("turn %s at %s", e.Kind, e.State)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Cause
}

// UpstreamError wraps a failure of the model-inference capability.
type UpstreamError struct {
	Provider string
	Model    string
	Cause    error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream model %s/%s: %v", e.Provider, e.Model, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var turnErr *TurnError
	if errors.As(err, &turnErr) && turnErr.Kind != "" {
		return turnErr.Kind
	}
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		return KindUpstreamModel
	case errors.Is(err, ErrNoUserMessage):
		return KindValidation
	case errors.Is(err, ErrModelNotFound), errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	}
	if _, ok := GetToolError(err); ok {
		return KindToolExecution
	}
	return KindInternal
}
