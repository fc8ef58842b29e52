// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for the quill server.
//
// # Logging
//
// NewLogger returns a *slog.Logger writing JSON or text. String attributes that
// look like credentials (API keys, bearer tokens, JWTs) are redacted before
// they reach the handler, and records logged with a request context carry its
// request id:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	logger.InfoContext(ctx, "turn finished", "chat_id", chatID)
//
// # Metrics
//
// Metrics implements agent.Metrics and registers its collectors on an injected
// prometheus.Registerer, so tests can use a fresh registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//
// # Tracing
//
// NewTracerProvider exports spans over OTLP gRPC when an endpoint is
// configured and returns a no-op provider otherwise.
package observability
