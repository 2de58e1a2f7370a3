// Package bootstrap wires the full agent stack from configuration. Both the
// server binary and the CLI build the same container so in-process runs and
// HTTP-served runs behave identically.
package bootstrap

import (
	"context"
	"fmt"

	"oape/internal/agent"
	agentports "oape/internal/agent/ports"
	"oape/internal/config"
	oerr "oape/internal/errors"
	"oape/internal/llm"
	"oape/internal/logging"
	"oape/internal/observability"
	"oape/internal/prompts"
	"oape/internal/server/app"
	"oape/internal/tools"
)

// Container holds the wired components of one agent stack.
type Container struct {
	Config       *config.Config
	Loader       *prompts.Loader
	Metrics      *observability.Metrics
	Tracer       *observability.TracerProvider
	Client       agentports.LLMClient
	Registry     agentports.ToolRegistry
	Runner       agentports.JobRunner
	Broadcaster  *app.EventBroadcaster
	Store        *app.InMemoryJobStore
	Orchestrator *app.Orchestrator

	logger logging.Logger
}

// Build assembles the stack: prompt loader, instrumented tool registry,
// retrying completion client, agent engine and orchestrator.
func Build(cfg *config.Config) (*Container, error) {
	loader, err := prompts.NewLoader(cfg.Prompts.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("load command catalog: %w", err)
	}

	metrics := observability.NewMetrics()
	tracerProvider, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}
	tracer := tracerProvider.Tracer()

	client, err := llm.NewAnthropicClient(cfg.LLMClientConfig())
	if err != nil {
		return nil, fmt.Errorf("initialize completion client: %w", err)
	}
	retryConfig := oerr.DefaultRetryConfig()
	if cfg.LLM.MaxRetries > 0 {
		retryConfig.MaxAttempts = cfg.LLM.MaxRetries
	}
	client = llm.WrapWithRetry(client, retryConfig, oerr.DefaultCircuitBreakerConfig())
	client = observability.InstrumentLLM(client, metrics, tracer)

	registry := observability.InstrumentRegistry(tools.NewRegistry(cfg.ToolConfig()), metrics, tracer)
	runner := observability.InstrumentRunner(agent.NewEngine(client, registry, cfg.EngineConfig()), metrics, tracer)

	broadcaster := app.NewEventBroadcaster()
	var orch *app.Orchestrator
	store, err := app.NewInMemoryJobStore(cfg.Server.JobRetention, func(jobID string) {
		orch.OnJobEvicted(jobID)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize job store: %w", err)
	}
	orch = app.NewOrchestrator(store, broadcaster, loader, runner, cfg.Agent.MaxConcurrentJobs)

	return &Container{
		Config:       cfg,
		Loader:       loader,
		Metrics:      metrics,
		Tracer:       tracerProvider,
		Client:       client,
		Registry:     registry,
		Runner:       runner,
		Broadcaster:  broadcaster,
		Store:        store,
		Orchestrator: orch,
		logger:       logging.NewComponentLogger("bootstrap"),
	}, nil
}

// Cleanup stops running jobs and flushes traces.
func (c *Container) Cleanup(ctx context.Context) {
	if err := c.Orchestrator.Shutdown(ctx); err != nil {
		c.logger.Error("orchestrator shutdown: %v", err)
	}
	if err := c.Tracer.Shutdown(ctx); err != nil {
		c.logger.Error("tracer shutdown: %v", err)
	}
}
