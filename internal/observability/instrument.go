package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"oape/internal/agent/ports"
)

// instrumentedRunner wraps a JobRunner with metrics and a span per run.
type instrumentedRunner struct {
	inner   ports.JobRunner
	metrics *Metrics
	tracer  trace.Tracer
}

// InstrumentRunner decorates a runner with job metrics and tracing.
func InstrumentRunner(inner ports.JobRunner, metrics *Metrics, tracer trace.Tracer) ports.JobRunner {
	return &instrumentedRunner{inner: inner, metrics: metrics, tracer: tracer}
}

func (r *instrumentedRunner) Run(ctx context.Context, spec ports.JobRunSpec, onTurn func(ports.Turn)) (*ports.JobRunResult, error) {
	ctx, span := r.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("job.id", spec.JobID)))
	defer span.End()

	r.metrics.ActiveJobs.Inc()
	start := time.Now()

	result, err := r.inner.Run(ctx, spec, onTurn)

	r.metrics.ActiveJobs.Dec()
	r.metrics.JobDuration.Observe(time.Since(start).Seconds())

	status := "completed"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.JobsFinished.WithLabelValues(status).Inc()

	if result != nil {
		r.metrics.JobIterations.Observe(float64(result.Iterations))
		r.metrics.TokensUsed.WithLabelValues("input").Add(float64(result.Usage.PromptTokens))
		r.metrics.TokensUsed.WithLabelValues("output").Add(float64(result.Usage.CompletionTokens))
		span.SetAttributes(
			attribute.Int("job.iterations", result.Iterations),
			attribute.Int("job.tokens", result.Usage.TotalTokens),
		)
	}
	return result, err
}

// instrumentedRegistry decorates every resolved tool with timing metrics and
// a span per call.
type instrumentedRegistry struct {
	ports.ToolRegistry
	metrics *Metrics
	tracer  trace.Tracer
}

// InstrumentRegistry decorates a tool registry.
func InstrumentRegistry(inner ports.ToolRegistry, metrics *Metrics, tracer trace.Tracer) ports.ToolRegistry {
	return &instrumentedRegistry{ToolRegistry: inner, metrics: metrics, tracer: tracer}
}

func (r *instrumentedRegistry) Get(name string) (ports.ToolExecutor, error) {
	tool, err := r.ToolRegistry.Get(name)
	if err != nil {
		return nil, err
	}
	return &instrumentedTool{ToolExecutor: tool, metrics: r.metrics, tracer: r.tracer}, nil
}

type instrumentedTool struct {
	ports.ToolExecutor
	metrics *Metrics
	tracer  trace.Tracer
}

func (t *instrumentedTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name := t.Metadata().Name
	ctx, span := t.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("job.id", call.JobID),
		))
	defer span.End()

	start := time.Now()
	result, err := t.ToolExecutor.Execute(ctx, call)
	t.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result != nil && result.IsError():
		outcome = "tool_error"
	}
	t.metrics.ToolExecutions.WithLabelValues(name, outcome).Inc()

	return result, err
}

// instrumentedLLM counts completion requests by outcome.
type instrumentedLLM struct {
	ports.LLMClient
	metrics *Metrics
	tracer  trace.Tracer
}

// InstrumentLLM decorates a completion client.
func InstrumentLLM(inner ports.LLMClient, metrics *Metrics, tracer trace.Tracer) ports.LLMClient {
	return &instrumentedLLM{LLMClient: inner, metrics: metrics, tracer: tracer}
}

func (c *instrumentedLLM) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete",
		trace.WithAttributes(attribute.String("llm.model", c.Model())))
	defer span.End()

	resp, err := c.LLMClient.Complete(ctx, req)
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.metrics.LLMRequests.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("llm.tokens", resp.Usage.TotalTokens))
	return resp, nil
}
