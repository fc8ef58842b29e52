package stream

import (
	"context"
	"sync"

	"github.com/haasonsaas/quill/pkg/models"
)

// Sink receives the events of one sub-stream.
type Sink interface {
	Append(ctx context.Context, ev models.StreamEvent) error
}

type sinkContextKey struct{}

// WithSink returns a context carrying sink for tool executors.
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, sinkContextKey{}, sink)
}

// SinkFromContext returns the sink stored in ctx, or a discarding sink.
func SinkFromContext(ctx context.Context) Sink {
	if sink, ok := ctx.Value(sinkContextKey{}).(Sink); ok && sink != nil {
		return sink
	}
	return Discard
}

type discard struct{}

func (discard) Append(context.Context, models.StreamEvent) error { return nil }

// Discard drops every event.
var Discard Sink = discard{}

// LazyHandle opens its sub-stream on first Append, so tools that never emit
// anything leave no trace in the output.
type LazyHandle struct {
	m    *Multiplexer
	name string

	mu     sync.Mutex
	handle *Handle
	err    error
}

// Lazy returns a sub-stream sink that is opened on demand.
func Lazy(m *Multiplexer, name string) *LazyHandle {
	return &LazyHandle{m: m, name: name}
}

// Append opens the sub-stream if needed and writes ev to it.
func (l *LazyHandle) Append(ctx context.Context, ev models.StreamEvent) error {
	l.mu.Lock()
	if l.handle == nil && l.err == nil {
		l.handle, l.err = l.m.Open(l.name)
	}
	h, err := l.handle, l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Append(ctx, ev)
}

// Opened reports whether anything was appended.
func (l *LazyHandle) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Close writes the finish frame if the sub-stream was opened.
func (l *LazyHandle) Close() {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	if h != nil {
		h.Close()
	}
}
