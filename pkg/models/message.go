package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the members of a message content union.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one item of structured message content.
//
// Text parts carry Text. Tool-call parts carry ToolCallID, ToolName and Args.
// Tool-result parts carry ToolCallID, ToolName, Result and IsError.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolCallPart builds a tool-call content part.
func ToolCallPart(call ToolCall) Part {
	return Part{Type: PartToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: call.Input}
}

// ToolResultPart builds a tool-result content part.
func ToolResultPart(name string, result ToolResult) Part {
	return Part{
		Type:       PartToolResult,
		ToolCallID: result.ToolCallID,
		ToolName:   name,
		Result:     resultJSON(result.Content),
		IsError:    result.IsError,
	}
}

// Message is one entry of a conversation turn.
type Message struct {
	ID              string           `json:"id"`
	ChatID          string           `json:"chatId,omitempty"`
	Role            Role             `json:"role"`
	Parts           []Part           `json:"parts"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool-call parts as calls, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, ToolCall{ID: p.ToolCallID, Name: p.ToolName, Input: p.Args})
		}
	}
	return calls
}

// ToolResults returns the tool-result parts as results, in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult {
			results = append(results, ToolResult{
				ToolCallID: p.ToolCallID,
				Content:    string(p.Result),
				IsError:    p.IsError,
			})
		}
	}
	return results
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// resultJSON keeps JSON tool output as-is and quotes anything else.
func resultJSON(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	quoted, _ := json.Marshal(content)
	return quoted
}

// User represents an authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
