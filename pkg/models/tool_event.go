package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// InvocationState describes the lifecycle stage of a tool invocation.
type InvocationState string

const (
	InvocationRequested InvocationState = "requested"
	InvocationExecuting InvocationState = "executing"
	InvocationCompleted InvocationState = "completed"
	InvocationFailed    InvocationState = "failed"
)

// Final reports whether no further transition is allowed.
func (s InvocationState) Final() bool {
	return s == InvocationCompleted || s == InvocationFailed
}

// ErrInvalidTransition is returned when an invocation is moved out of order.
var ErrInvalidTransition = errors.New("invalid tool invocation transition")

// ToolInvocation tracks one model-requested tool call within a turn.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      InvocationState `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// NewToolInvocation creates an invocation in the requested state.
func NewToolInvocation(call ToolCall) *ToolInvocation {
	return &ToolInvocation{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       call.Input,
		State:      InvocationRequested,
	}
}

// Advance moves the invocation to next. Only requested -> executing and
// executing -> completed|failed are allowed.
func (t *ToolInvocation) Advance(next InvocationState) error {
	ok := false
	switch t.State {
	case InvocationRequested:
		ok = next == InvocationExecuting
	case InvocationExecuting:
		ok = next.Final()
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, next)
	}
	t.State = next
	return nil
}

// Settle records the result and moves the invocation to its final state.
func (t *ToolInvocation) Settle(result ToolResult) error {
	next := InvocationCompleted
	if result.IsError {
		next = InvocationFailed
	}
	if err := t.Advance(next); err != nil {
		return err
	}
	t.Result = resultJSON(result.Content)
	return nil
}
