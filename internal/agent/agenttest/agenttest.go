// Package agenttest provides fakes for testing code that drives the model
// gateway and writes to tool sub-streams.
package agenttest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/pkg/models"
)

// Provider replays one chunk script per Complete call. When the scripts run
// out, the last one is repeated.
type Provider struct {
	ProviderName string
	Scripts      [][]*agent.CompletionChunk
	// Respond, when set, builds the script from the request instead.
	Respond func(req *agent.CompletionRequest) []*agent.CompletionChunk

	mu       sync.Mutex
	requests []*agent.CompletionRequest
}

// NewProvider returns a provider named "scripted" replaying scripts in order.
func NewProvider(scripts ...[]*agent.CompletionChunk) *Provider {
	return &Provider{Scripts: scripts}
}

func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "scripted"
	}
	return p.ProviderName
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	call := len(p.requests)
	copied := *req
	copied.Messages = append([]agent.CompletionMessage(nil), req.Messages...)
	p.requests = append(p.requests, &copied)
	var script []*agent.CompletionChunk
	switch {
	case p.Respond != nil:
		script = p.Respond(req)
	case call < len(p.Scripts):
		script = p.Scripts[call]
	case len(p.Scripts) > 0:
		script = p.Scripts[len(p.Scripts)-1]
	}
	p.mu.Unlock()

	ch := make(chan *agent.CompletionChunk)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Calls returns the number of Complete calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Request returns the i-th recorded request.
func (p *Provider) Request(i int) *agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// Text returns a script streaming parts and finishing.
func Text(parts ...string) []*agent.CompletionChunk {
	chunks := make([]*agent.CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &agent.CompletionChunk{Text: p})
	}
	return append(chunks, &agent.CompletionChunk{Done: true})
}

// ToolCall returns a chunk carrying one complete tool call.
func ToolCall(id, name, input string) *agent.CompletionChunk {
	return &agent.CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}}
}

// Failure returns a script that fails after streaming parts.
func Failure(err error, parts ...string) []*agent.CompletionChunk {
	chunks := make([]*agent.CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &agent.CompletionChunk{Text: p})
	}
	return append(chunks, &agent.CompletionChunk{Error: err})
}

// Gateway returns a gateway serving p.
func Gateway(p agent.LLMProvider) *agent.Gateway {
	g := agent.NewGateway(agent.GatewayConfig{})
	g.Register(p)
	return g
}

// Recorder is a stream.Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (r *Recorder) Append(ctx context.Context, ev models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StreamEvent(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []models.StreamKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.StreamKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Text concatenates the content of the recorded text-delta events.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, ev := range r.events {
		if ev.Kind == models.StreamTextDelta {
			if s, ok := ev.Content.(string); ok {
				b.WriteString(s)
			}
		}
	}
	return b.String()
}
