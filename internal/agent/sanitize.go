package agent

import (
	"strings"

	"github.com/haasonsaas/quill/pkg/models"
)

// SanitizeResponse prepares response messages for persistence. Tool calls
// without a matching result, results without a preceding call, and messages
// left with no content are dropped, so no dangling call is ever stored.
func SanitizeResponse(msgs []models.Message) []models.Message {
	resulted := make(map[string]bool)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Type == models.PartToolResult {
				resulted[p.ToolCallID] = true
			}
		}
	}

	called := make(map[string]bool)
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		parts := make([]models.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case models.PartText:
				if strings.TrimSpace(p.Text) == "" {
					continue
				}
			case models.PartToolCall:
				if !resulted[p.ToolCallID] {
					continue
				}
				called[p.ToolCallID] = true
			case models.PartToolResult:
				if !called[p.ToolCallID] {
					continue
				}
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}
		m.Parts = parts
		out = append(out, m)
	}
	return out
}

// FoldToolResults records, on each assistant message, the settled
// invocations of its tool calls using the tool message that follows it, and
// returns the messages without the tool messages.
func FoldToolResults(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for i, m := range msgs {
		if m.Role == models.RoleTool {
			continue
		}
		calls := m.ToolCalls()
		if m.Role != models.RoleAssistant || len(calls) == 0 {
			out = append(out, m)
			continue
		}
		results := make(map[string]models.ToolResult)
		if i+1 < len(msgs) && msgs[i+1].Role == models.RoleTool {
			for _, r := range msgs[i+1].ToolResults() {
				results[r.ToolCallID] = r
			}
		}
		m.ToolInvocations = make([]models.ToolInvocation, 0, len(calls))
		for _, call := range calls {
			inv := models.NewToolInvocation(call)
			if r, ok := results[call.ID]; ok {
				_ = inv.Advance(models.InvocationExecuting)
				_ = inv.Settle(r)
			}
			m.ToolInvocations = append(m.ToolInvocations, *inv)
		}
		out = append(out, m)
	}
	return out
}
