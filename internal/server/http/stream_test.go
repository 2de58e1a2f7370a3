package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentports "oape/internal/agent/ports"
	"oape/internal/server/app"
)

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestSSEStreamReplaysFinishedJob(t *testing.T) {
	srv, orch := newTestServer(t, echoJobRunner())

	job, err := orch.Run(context.Background(), app.SubmitRequest{
		Command: "init", Prompt: "orient", WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	res, err := http.Get(srv.URL + "/stream/" + job.ID)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/event-stream")

	buf := new(strings.Builder)
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
		buf.WriteString("\n")
	}
	events := parseSSE(t, buf.String())
	require.GreaterOrEqual(t, len(events), 4)

	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
	}
	assert.Equal(t, "status", names[0])
	assert.Equal(t, "complete", names[len(names)-1])
	assert.Contains(t, names, "turn")

	// Sequence numbers on the replayed JobEvents are contiguous from zero.
	seq := 0
	for _, ev := range events[:len(events)-1] {
		var decoded agentports.JobEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &decoded))
		assert.Equal(t, seq, decoded.Seq)
		seq++
	}

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &summary))
	assert.Equal(t, "completed", summary["status"])
	assert.Equal(t, "handled: Execute: /oape:init orient", summary["output"])
}

func TestSSEStreamUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	res, err := http.Get(srv.URL + "/stream/job-missing")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSSEStreamLiveEvents(t *testing.T) {
	release := make(chan struct{})
	srv, orch := newTestServer(t, runnerFunc(func(ctx context.Context, spec agentports.JobRunSpec, onTurn func(agentports.Turn)) (*agentports.JobRunResult, error) {
		onTurn(agentports.UserText(spec.Prompt))
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		onTurn(agentports.AssistantText("done"))
		return &agentports.JobRunResult{Output: "done", Iterations: 1}, nil
	}))

	job, err := orch.Submit(context.Background(), app.SubmitRequest{
		Command: "init", Prompt: "p", WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	res, err := http.Get(srv.URL + "/stream/" + job.ID)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	reader := bufio.NewReader(res.Body)
	readEvent := func() sseEvent {
		var ev sseEvent
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				return ev
			}
		}
	}

	first := readEvent()
	assert.Equal(t, "status", first.name)

	close(release)

	sawComplete := false
	deadline := time.After(3 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev := readEvent()
			if ev.name == "complete" {
				sawComplete = true
				return
			}
		}
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("timed out waiting for complete event")
	}
	assert.True(t, sawComplete)
}

func TestWebSocketStream(t *testing.T) {
	srv, orch := newTestServer(t, echoJobRunner())

	job, err := orch.Run(context.Background(), app.SubmitRequest{
		Command: "review", Prompt: "the diff", WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + job.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var events []agentports.JobEvent
	for {
		var event agentports.JobEvent
		if err := conn.ReadJSON(&event); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
		events = append(events, event)
	}

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, agentports.EventStatus, events[0].Type)
	assert.Equal(t, "queued", events[0].Status)
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, "completed", last.Status)
	for i, event := range events {
		assert.Equal(t, i, event.Seq)
		assert.Equal(t, job.ID, event.JobID)
	}
}

func TestWebSocketUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, echoJobRunner())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/job-missing"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if conn != nil {
		_ = conn.Close()
	}
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
