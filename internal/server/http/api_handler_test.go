package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentports "oape/internal/agent/ports"
	"oape/internal/observability"
	"oape/internal/prompts"
	"oape/internal/server/app"
)

type runnerFunc func(ctx context.Context, spec agentports.JobRunSpec, onTurn func(agentports.Turn)) (*agentports.JobRunResult, error)

func (f runnerFunc) Run(ctx context.Context, spec agentports.JobRunSpec, onTurn func(agentports.Turn)) (*agentports.JobRunResult, error) {
	return f(ctx, spec, onTurn)
}

func echoJobRunner() runnerFunc {
	return func(_ context.Context, spec agentports.JobRunSpec, onTurn func(agentports.Turn)) (*agentports.JobRunResult, error) {
		onTurn(agentports.UserText(spec.Prompt))
		onTurn(agentports.AssistantText("handled: " + spec.Prompt))
		return &agentports.JobRunResult{
			Output:     "handled: " + spec.Prompt,
			Usage:      agentports.TokenUsage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12},
			Iterations: 1,
		}, nil
	}
}

func newTestServer(t *testing.T, runner agentports.JobRunner) (*httptest.Server, *app.Orchestrator) {
	t.Helper()
	loader, err := prompts.NewLoader("")
	require.NoError(t, err)

	broadcaster := app.NewEventBroadcaster()
	var orch *app.Orchestrator
	store, err := app.NewInMemoryJobStore(16, func(jobID string) { orch.OnJobEvicted(jobID) })
	require.NoError(t, err)
	orch = app.NewOrchestrator(store, broadcaster, loader, runner, 2)

	router := NewRouter(RouterConfig{
		Orchestrator: orch,
		Metrics:      observability.NewMetrics(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return srv, orch
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSubmitAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())

	resp, body := postJSON(t, srv.URL+"/submit",
		`{"command": "init", "prompt": "orient", "working_dir": "`+t.TempDir()+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		res, err := http.Get(srv.URL + "/status/" + jobID)
		if err != nil {
			return false
		}
		defer func() { _ = res.Body.Close() }()
		var status map[string]any
		if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
			return false
		}
		return status["status"] == "completed"
	}, 3*time.Second, 20*time.Millisecond)

	res, err := http.Get(srv.URL + "/status/" + jobID)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	var status map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, "handled: orient", status["output"])
	assert.Equal(t, float64(9), status["input_tokens"])
	assert.Equal(t, float64(2), status["message_count"])
}

func TestSubmitUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	resp, body := postJSON(t, srv.URL+"/submit", `{"command": "bogus", "prompt": "p"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["detail"], "unknown command")
}

func TestSubmitBadWorkingDir(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	resp, _ := postJSON(t, srv.URL+"/submit",
		`{"command": "init", "prompt": "p", "working_dir": "/no/such/dir"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	res, err := http.Get(srv.URL + "/status/job-missing")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRunSynchronous(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	resp, body := postJSON(t, srv.URL+"/api/v1/run",
		`{"command": "review", "prompt": "the diff", "working_dir": "`+t.TempDir()+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "handled: Execute: /oape:review the diff", body["output"])
	assert.Equal(t, float64(9), body["input_tokens"])
}

func TestRunFailureReturns500(t *testing.T) {
	srv, _ := newTestServer(t, runnerFunc(func(_ context.Context, spec agentports.JobRunSpec, onTurn func(agentports.Turn)) (*agentports.JobRunResult, error) {
		onTurn(agentports.UserText(spec.Prompt))
		return nil, context.DeadlineExceeded
	}))
	resp, body := postJSON(t, srv.URL+"/api/v1/run",
		`{"command": "init", "prompt": "p", "working_dir": "`+t.TempDir()+`"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, body["detail"])
}

func TestCommandsCatalog(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	res, err := http.Get(srv.URL + "/api/v1/commands")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Commands []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"commands"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.NotEmpty(t, body.Commands)

	names := make([]string, 0, len(body.Commands))
	for _, cmd := range body.Commands {
		names = append(names, cmd.Name)
		assert.NotEmpty(t, cmd.Description)
	}
	assert.Contains(t, names, "api-implement")
}

func TestCancelUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	resp, _ := postJSON(t, srv.URL+"/cancel/job-missing", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHomepageRendersCommands(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, res.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `<option value="api-implement">`)
	assert.Contains(t, buf.String(), "EventSource")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	_, _ = postJSON(t, srv.URL+"/submit",
		`{"command": "init", "prompt": "p", "working_dir": "`+t.TempDir()+`"}`)

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, res.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "oape_jobs_submitted_total")
}

func TestListJobs(t *testing.T) {
	srv, orch := newTestServer(t, echoJobRunner())
	_, err := orch.Run(context.Background(), app.SubmitRequest{
		Command: "init", Prompt: "p", WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	res, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Jobs  []map[string]any `json:"jobs"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "completed", body.Jobs[0]["status"])
}
