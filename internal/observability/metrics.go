package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/quill/pkg/models"
)

// Metrics collects the server's Prometheus metrics. It implements
// agent.Metrics.
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: status (finished|failed|cancelled)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turns from first step to persisted response.
	TurnDuration prometheus.Histogram

	// TurnSteps records model round trips per turn.
	TurnSteps prometheus.Histogram

	// StepDuration measures one provider call.
	// Labels: provider, model
	StepDuration *prometheus.HistogramVec

	// StepCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	StepCounter *prometheus.CounterVec

	// ToolCallCounter counts settled tool invocations.
	// Labels: tool, status (completed or a failure kind)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool executions.
	// Labels: tool
	ToolCallDuration *prometheus.HistogramVec

	// StreamFrames counts frames written to clients.
	// Labels: type
	StreamFrames *prometheus.CounterVec

	// HTTPRequestCounter counts API requests.
	// Labels: method, route, code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency, including streamed
	// responses.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// registers on the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_turns_total",
				Help: "Total number of chat turns by outcome",
			},
			[]string{"status"},
		),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_turn_duration_seconds",
			Help:    "Duration of chat turns in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		TurnSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_turn_steps",
			Help:    "Model round trips per chat turn",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		}),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_llm_step_duration_seconds",
				Help:    "Duration of model provider calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		StepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_llm_steps_total",
				Help: "Total number of model provider calls by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_tool_calls_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_tool_call_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		StreamFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_stream_frames_total",
				Help: "Total number of frames written to clients by event type",
			},
			[]string{"type"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_http_requests_total",
				Help: "Total number of API requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_http_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) ObserveStep(provider, model string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StepCounter.WithLabelValues(provider, model, status).Inc()
	m.StepDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveTurn(status string, steps int, d time.Duration) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(d.Seconds())
	m.TurnSteps.Observe(float64(steps))
}

// ObserveFrame counts one written frame. It matches stream.Config.OnFrame.
func (m *Metrics) ObserveFrame(kind models.StreamKind) {
	m.StreamFrames.WithLabelValues(string(kind)).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	m.HTTPRequestCounter.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
