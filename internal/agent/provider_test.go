package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/quill/pkg/models"
)

// scriptedProvider replays one chunk script per Complete call. When the
// scripts run out, the last one is repeated.
type scriptedProvider struct {
	name    string
	scripts [][]*CompletionChunk
	noTools bool

	// respond, when set, builds the script from the request instead.
	respond func(req *CompletionRequest) []*CompletionChunk

	mu       sync.Mutex
	requests []*CompletionRequest
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) SupportsTools() bool { return !p.noTools }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	call := len(p.requests)
	copied := *req
	copied.Messages = append([]CompletionMessage(nil), req.Messages...)
	p.requests = append(p.requests, &copied)
	var script []*CompletionChunk
	switch {
	case p.respond != nil:
		script = p.respond(req)
	case call < len(p.scripts):
		script = p.scripts[call]
	case len(p.scripts) > 0:
		script = p.scripts[len(p.scripts)-1]
	}
	p.mu.Unlock()

	ch := make(chan *CompletionChunk)
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

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func textChunks(parts ...string) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &CompletionChunk{Text: p})
	}
	return append(chunks, &CompletionChunk{Done: true})
}

func toolCallChunk(id, name, input string) *CompletionChunk {
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}}
}
