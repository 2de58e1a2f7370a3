package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the job pipeline.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted  *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	JobIterations  prometheus.Histogram
	ActiveJobs     prometheus.Gauge
	StreamClients  prometheus.Gauge
	TokensUsed     *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	LLMRequests    *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry (with the standard Go
// and process collectors included).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oape_jobs_submitted_total",
			Help: "Jobs submitted, by command.",
		}, []string{"command"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oape_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by status.",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oape_job_duration_seconds",
			Help:    "Wall clock duration of finished jobs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		JobIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oape_job_iterations",
			Help:    "Agent loop iterations per finished job.",
			Buckets: []float64{1, 2, 5, 10, 20, 35, 50},
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oape_active_jobs",
			Help: "Jobs currently running.",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oape_stream_clients",
			Help: "Connected SSE and WebSocket clients.",
		}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oape_tokens_total",
			Help: "Tokens consumed, by direction.",
		}, []string{"direction"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oape_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oape_tool_duration_seconds",
			Help:    "Tool execution duration, by tool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oape_llm_requests_total",
			Help: "Completion requests, by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
