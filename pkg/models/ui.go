package models

import (
	"time"
)

// UIMessage is the client-facing message shape: flat text plus the tool
// invocations shown inline.
type UIMessage struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt,omitempty"`
}

// ToCoreMessages converts client messages into model messages.
//
// An assistant message with settled invocations becomes an assistant message
// carrying the tool calls followed by a tool message carrying the results.
// Invocations that never settled are dropped so no dangling call reaches the
// model. Client-supplied system messages are ignored.
func ToCoreMessages(ui []UIMessage) []Message {
	out := make([]Message, 0, len(ui))
	for _, m := range ui {
		switch m.Role {
		case RoleUser:
			out = append(out, Message{
				ID:        m.ID,
				Role:      RoleUser,
				Parts:     []Part{TextPart(m.Content)},
				CreatedAt: m.CreatedAt,
			})
		case RoleAssistant:
			assistant := Message{ID: m.ID, Role: RoleAssistant, CreatedAt: m.CreatedAt}
			if m.Content != "" {
				assistant.Parts = append(assistant.Parts, TextPart(m.Content))
			}
			var results []Part
			for _, inv := range m.ToolInvocations {
				if !inv.State.Final() {
					continue
				}
				assistant.Parts = append(assistant.Parts, ToolCallPart(ToolCall{
					ID:    inv.ToolCallID,
					Name:  inv.ToolName,
					Input: inv.Args,
				}))
				results = append(results, Part{
					Type:       PartToolResult,
					ToolCallID: inv.ToolCallID,
					ToolName:   inv.ToolName,
					Result:     inv.Result,
					IsError:    inv.State == InvocationFailed,
				})
			}
			if len(assistant.Parts) > 0 {
				out = append(out, assistant)
			}
			if len(results) > 0 {
				out = append(out, Message{Role: RoleTool, Parts: results, CreatedAt: m.CreatedAt})
			}
		}
	}
	return out
}

// ToUIMessages converts stored messages back into client messages, folding
// each tool message into the invocations of the assistant message before it.
func ToUIMessages(msgs []Message) []UIMessage {
	out := make([]UIMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleTool {
			if len(out) == 0 {
				continue
			}
			last := &out[len(out)-1]
			for _, p := range m.Parts {
				if p.Type != PartToolResult {
					continue
				}
				for i := range last.ToolInvocations {
					inv := &last.ToolInvocations[i]
					if inv.ToolCallID != p.ToolCallID {
						continue
					}
					inv.Result = p.Result
					inv.State = InvocationCompleted
					if p.IsError {
						inv.State = InvocationFailed
					}
				}
			}
			continue
		}

		ui := UIMessage{ID: m.ID, Role: m.Role, Content: m.Text(), CreatedAt: m.CreatedAt}
		if len(m.ToolInvocations) > 0 {
			ui.ToolInvocations = append([]ToolInvocation(nil), m.ToolInvocations...)
		} else {
			for _, call := range m.ToolCalls() {
				ui.ToolInvocations = append(ui.ToolInvocations, *NewToolInvocation(call))
			}
		}
		out = append(out, ui)
	}
	return out
}

// MostRecentUserMessage returns the last user message, or false if there is none.
func MostRecentUserMessage(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i], true
		}
	}
	return Message{}, false
}
