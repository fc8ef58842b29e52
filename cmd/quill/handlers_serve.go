package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/ratelimit"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools"
	"github.com/haasonsaas/quill/internal/web"
)

// runServe loads the configuration, wires the server and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug, watch bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	levels := new(slog.LevelVar)
	logCfg := observability.LogConfig{
		Level:    cfg.Observability.Logging.Level,
		Format:   cfg.Observability.Logging.Format,
		LevelVar: levels,
	}
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting Quill",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	tracing := cfg.Observability.Tracing
	traceCfg := observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: tracing.ServiceVersion,
		Environment:    tracing.Environment,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		Insecure:       tracing.Insecure,
	}
	if tracing.Enabled {
		traceCfg.Endpoint = tracing.Endpoint
	}
	if traceCfg.ServiceVersion == "" {
		traceCfg.ServiceVersion = version
	}
	tracerProvider, shutdownTracing, err := observability.NewTracerProvider(ctx, traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()
	tracer := tracerProvider.Tracer("github.com/haasonsaas/quill")

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics(registry)
	}
	agentMetrics := func() agent.Metrics {
		if metrics == nil {
			return nil
		}
		return metrics
	}()

	store, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	llms, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	gateway := agent.NewGateway(agent.GatewayConfig{
		Logger:  logger.With("component", "gateway"),
		Metrics: agentMetrics,
		Tracer:  tracer,
	})
	for _, p := range llms {
		gateway.Register(p)
	}

	registryTools := tools.NewRegistry(cfg.ToolsConfig(), tools.Deps{
		Store:   store,
		Gateway: gateway,
		Model:   cfg.DefaultModel(),
		Logger:  logger,
	})
	coordinator := agent.NewCoordinator(registryTools, agent.CoordinatorConfig{
		MaxConcurrency: cfg.Tools.MaxConcurrency,
		Timeout:        cfg.Tools.Timeout,
		Logger:         logger.With("component", "coordinator"),
		Metrics:        agentMetrics,
		Tracer:         tracer,
	})
	orchestrator := agent.NewOrchestrator(agent.OrchestratorConfig{
		Gateway:     gateway,
		Coordinator: coordinator,
		Store:       store,
		Catalog:     cfg.Catalog(),
		System:      cfg.LLM.System,
		MaxSteps:    cfg.LLM.MaxSteps,
		MaxTokens:   cfg.LLM.MaxTokens,
		SaveRetry:   cfg.RetryPolicy(),
		Logger:      logger.With("component", "turn"),
		Metrics:     agentMetrics,
		Tracer:      tracer,
	})

	authService := auth.NewService(cfg.AuthServiceConfig())
	if !authService.Enabled() {
		logger.Warn("authentication disabled", "anonymous_user", cfg.Auth.AnonymousUser)
	}

	limiter := ratelimit.New(cfg.RateLimitConfig())
	if watch {
		go func() {
			err := config.Watch(ctx, configPath, 0, logger, func(next *config.Config) {
				if !debug {
					levels.Set(observability.ParseLevel(next.Observability.Logging.Level))
				}
				limiter.Update(next.RateLimitConfig())
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}
		}()
	}

	webCfg := web.Config{
		Orchestrator:   orchestrator,
		Store:          store,
		Auth:           authService,
		AnonymousUser:  cfg.Auth.AnonymousUser,
		Metrics:        metrics,
		Gatherer:       registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    limiter,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		StreamBuffer:   cfg.Server.StreamBuffer,
		SaveRetry:      cfg.RetryPolicy(),
		Logger:         logger,
	}
	if metrics != nil {
		webCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	handler, err := web.NewHandler(webCfg)
	if err != nil {
		return fmt.Errorf("web handler: %w", err)
	}

	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", addr, "tools", registryTools.Len(), "models", len(cfg.Catalog()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	logger.Info("Quill stopped")
	return nil
}
