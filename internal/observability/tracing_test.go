package observability

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProviderWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := NewTracerProvider(context.Background(), TraceConfig{ServiceName: "quill"})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := provider.Tracer("test").Start(context.Background(), "turn")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("no-op provider produced a recording span")
	}
	if TraceID(ctx) != "" {
		t.Errorf("TraceID() = %q, want empty", TraceID(ctx))
	}
}

func TestNewTracerProviderWithEndpoint(t *testing.T) {
	provider, shutdown, err := NewTracerProvider(context.Background(), TraceConfig{
		Endpoint:     "localhost:4317",
		Insecure:     true,
		SamplingRate: 0.5,
		Attributes:   map[string]string{"region": "test"},
	})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if _, ok := provider.(*sdktrace.TracerProvider); !ok {
		t.Errorf("provider = %T, want sdk provider", provider)
	}
	// The exporter connects lazily, so shutting down without a collector only
	// fails the final flush.
	_ = shutdown(context.Background())
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 2, want: "AlwaysOnSampler"},
		{rate: -1, want: "AlwaysOffSampler"},
		{rate: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestTraceIDFromRecordingSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	ctx, span := provider.Tracer("test").Start(context.Background(), "turn")
	span.End()
	if id := TraceID(ctx); len(id) != 32 {
		t.Errorf("TraceID() = %q, want 32 hex chars", id)
	}
	if len(recorder.Ended()) != 1 {
		t.Errorf("ended spans = %d, want 1", len(recorder.Ended()))
	}
}
