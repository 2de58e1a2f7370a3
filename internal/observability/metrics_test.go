package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

type runnerFunc func(ctx context.Context, spec ports.JobRunSpec, onTurn func(ports.Turn)) (*ports.JobRunResult, error)

func (f runnerFunc) Run(ctx context.Context, spec ports.JobRunSpec, onTurn func(ports.Turn)) (*ports.JobRunResult, error) {
	return f(ctx, spec, onTurn)
}

func TestMetricsHandlerServesCollectors(t *testing.T) {
	m := NewMetrics()
	m.JobsSubmitted.WithLabelValues("init").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "oape_jobs_submitted_total") {
		t.Fatal("submitted counter missing from exposition")
	}
}

func TestInstrumentRunnerRecordsOutcome(t *testing.T) {
	m := NewMetrics()
	tracer := noop.NewTracerProvider().Tracer("test")

	ok := InstrumentRunner(runnerFunc(func(context.Context, ports.JobRunSpec, func(ports.Turn)) (*ports.JobRunResult, error) {
		return &ports.JobRunResult{Iterations: 2, Usage: ports.TokenUsage{PromptTokens: 8, CompletionTokens: 4, TotalTokens: 12}}, nil
	}), m, tracer)
	if _, err := ok.Run(context.Background(), ports.JobRunSpec{JobID: "job-1"}, nil); err != nil {
		t.Fatal(err)
	}

	failing := InstrumentRunner(runnerFunc(func(context.Context, ports.JobRunSpec, func(ports.Turn)) (*ports.JobRunResult, error) {
		return nil, oerr.New(oerr.KindUpstreamError, "down")
	}), m, tracer)
	if _, err := failing.Run(context.Background(), ports.JobRunSpec{JobID: "job-2"}, nil); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed = %v", got)
	}
	if got := testutil.ToFloat64(m.JobsFinished.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := testutil.ToFloat64(m.TokensUsed.WithLabelValues("input")); got != 8 {
		t.Fatalf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveJobs); got != 0 {
		t.Fatalf("active jobs should return to zero, got %v", got)
	}
}

func TestTracerProviderDisabledIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	_, span := tp.Tracer().Start(context.Background(), "probe")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
