// Package stream multiplexes the model's token stream and tool sub-streams
// into one ordered NDJSON response body.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/haasonsaas/quill/pkg/models"
)

// TurnStream names the root sub-stream. Its finish frame ends the response.
const TurnStream = "turn"

var (
	// ErrClosed is returned when appending after the multiplexer closed.
	ErrClosed = errors.New("stream: multiplexer closed")

	// ErrHandleClosed is returned when appending through a closed handle.
	ErrHandleClosed = errors.New("stream: sub-stream closed")

	// ErrDuplicateStream is returned when a sub-stream name is reused.
	ErrDuplicateStream = errors.New("stream: duplicate sub-stream")
)

// Frame is one line of the wire protocol.
type Frame struct {
	Stream  string            `json:"stream"`
	Seq     int               `json:"seq"`
	Kind    models.StreamKind `json:"type"`
	Content any               `json:"content"`
}

// Config tunes a Multiplexer.
type Config struct {
	// Buffer bounds the frames queued ahead of the writer. Default: 64.
	Buffer int

	// Logger receives write failures. Default: slog.Default().
	Logger *slog.Logger

	// OnFrame, when set, is called by the writer after each frame is written.
	OnFrame func(kind models.StreamKind)

	// ErrorMessage maps the error passed to Close onto the text of the
	// error frame. Default: DefaultErrorMessage for every error.
	ErrorMessage func(error) string
}

// DefaultErrorMessage is the error frame text when no mapping is configured.
const DefaultErrorMessage = "An error occurred while processing your request"

// Multiplexer is a bounded, ordered, append-only log of frames with a single
// writer goroutine. Appends are atomic per event; sequence numbers are
// assigned per sub-stream in append order.
type Multiplexer struct {
	mu      sync.Mutex
	closed  bool
	frames  chan Frame
	seq     map[string]int
	handles []*Handle
	names   map[string]struct{}

	w       io.Writer
	flusher http.Flusher
	logger  *slog.Logger
	onFrame func(models.StreamKind)
	errText func(error) string

	done     chan struct{}
	writeErr error
}

// New starts a multiplexer writing to w.
func New(w io.Writer, cfg Config) *Multiplexer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorMessage == nil {
		cfg.ErrorMessage = func(error) string { return DefaultErrorMessage }
	}
	m := &Multiplexer{
		frames:  make(chan Frame, cfg.Buffer),
		seq:     make(map[string]int),
		names:   map[string]struct{}{TurnStream: {}},
		w:       w,
		logger:  cfg.Logger,
		onFrame: cfg.OnFrame,
		errText: cfg.ErrorMessage,
		done:    make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		m.flusher = f
	}
	go m.writeLoop()
	return m
}

// writeLoop drains every queued frame, even after a write failure, so that
// appenders never block on a dead client.
func (m *Multiplexer) writeLoop() {
	defer close(m.done)
	enc := json.NewEncoder(m.w)
	for f := range m.frames {
		if m.writeErr != nil {
			continue
		}
		if err := enc.Encode(f); err != nil {
			m.writeErr = fmt.Errorf("stream: write frame: %w", err)
			m.logger.Warn("stream write failed", "error", err, "stream", f.Stream, "type", f.Kind)
			continue
		}
		if m.flusher != nil {
			m.flusher.Flush()
		}
		if m.onFrame != nil {
			m.onFrame(f.Kind)
		}
	}
}

// Append writes an event on the root turn sub-stream.
func (m *Multiplexer) Append(ctx context.Context, ev models.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.enqueueLocked(ctx, TurnStream, ev)
}

// Open starts a named sub-stream.
func (m *Multiplexer) Open(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, dup := m.names[name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, name)
	}
	m.names[name] = struct{}{}
	h := &Handle{m: m, name: name}
	m.handles = append(m.handles, h)
	return h, nil
}

// enqueueLocked must be called with m.mu held.
func (m *Multiplexer) enqueueLocked(ctx context.Context, stream string, ev models.StreamEvent) error {
	f := Frame{Stream: stream, Seq: m.seq[stream], Kind: ev.Kind, Content: ev.Content}
	if f.Content == nil {
		f.Content = ""
	}
	select {
	case m.frames <- f:
		m.seq[stream]++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the response. Open sub-streams receive their finish frame, err
// (when non-nil) is reported as an error frame, and a final finish frame is
// written on the turn sub-stream. The error frame carries
// Config.ErrorMessage(err), never the raw error text. Close is idempotent; every call returns
// after the writer has drained and reports the first write failure.
func (m *Multiplexer) Close(err error) error {
	m.mu.Lock()
	if !m.closed {
		ctx := context.Background()
		for _, h := range m.handles {
			if !h.closed {
				h.closed = true
				_ = m.enqueueLocked(ctx, h.name, models.StreamEvent{Kind: models.StreamFinish})
			}
		}
		if err != nil {
			_ = m.enqueueLocked(ctx, TurnStream, models.NewStreamEvent(models.StreamError, m.errText(err)))
		}
		_ = m.enqueueLocked(ctx, TurnStream, models.StreamEvent{Kind: models.StreamFinish})
		m.closed = true
		close(m.frames)
	}
	m.mu.Unlock()

	<-m.done
	return m.writeErr
}

// Closed reports whether Close has been called.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Done is closed once the writer has flushed the terminal frame.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Handle is the write side of one sub-stream.
type Handle struct {
	m      *Multiplexer
	name   string
	closed bool // guarded by m.mu
}

// Name returns the sub-stream name.
func (h *Handle) Name() string {
	return h.name
}

// Append writes an event on this sub-stream.
func (h *Handle) Append(ctx context.Context, ev models.StreamEvent) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.closed {
		return ErrClosed
	}
	if h.closed {
		return ErrHandleClosed
	}
	return h.m.enqueueLocked(ctx, h.name, ev)
}

// Close writes the sub-stream's finish frame. It is idempotent and safe
// after the multiplexer itself has closed.
func (h *Handle) Close() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.closed || h.m.closed {
		h.closed = true
		return
	}
	h.closed = true
	_ = h.m.enqueueLocked(context.Background(), h.name, models.StreamEvent{Kind: models.StreamFinish})
}
