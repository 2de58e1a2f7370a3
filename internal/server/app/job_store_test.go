package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentports "oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/server/ports"
)

func newTestStore(t *testing.T, retention int, onEvict func(string)) *InMemoryJobStore {
	t.Helper()
	store, err := NewInMemoryJobStore(retention, onEvict)
	require.NoError(t, err)
	return store
}

func TestJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10, nil)

	job, err := store.Create(ctx, ports.JobInput{Command: "init", Prompt: "look around", WorkingDir: "/tmp"})
	require.NoError(t, err)
	assert.Contains(t, job.ID, "job-")
	assert.Equal(t, ports.JobStatusQueued, job.Status)

	require.NoError(t, store.MarkRunning(ctx, job.ID))
	require.NoError(t, store.AppendTurn(ctx, job.ID, agentports.UserText("look around")))
	require.NoError(t, store.AddUsage(ctx, job.ID, agentports.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}))
	require.NoError(t, store.SetIterations(ctx, job.ID, 2))
	require.NoError(t, store.Complete(ctx, job.ID, "all done"))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStatusCompleted, got.Status)
	assert.Equal(t, "all done", got.Result)
	assert.Equal(t, 15, got.Usage.TotalTokens)
	assert.Equal(t, 2, got.Iterations)
	assert.Len(t, got.History, 1)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 0, store.ActiveCount())
}

func TestJobStoreGetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10, nil)

	job, err := store.Create(ctx, ports.JobInput{Command: "init", Prompt: "p"})
	require.NoError(t, err)

	first, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, job.ID, agentports.UserText("p")))

	assert.Empty(t, first.History, "earlier snapshot must not see later writes")
}

func TestJobStoreTerminalJobNotMutable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10, nil)

	job, err := store.Create(ctx, ports.JobInput{Command: "init", Prompt: "p"})
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, job.ID, oerr.New(oerr.KindUpstreamError, "boom")))

	err = store.AppendTurn(ctx, job.ID, agentports.UserText("late"))
	require.Error(t, err)
	assert.Equal(t, oerr.KindNotFound, oerr.KindOf(err))

	// but the record is still readable
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "boom")
}

func TestJobStoreUnknownJob(t *testing.T) {
	store := newTestStore(t, 10, nil)
	_, err := store.Get(context.Background(), "job-missing")
	require.Error(t, err)
	assert.Equal(t, oerr.KindNotFound, oerr.KindOf(err))
}

func TestJobStoreRetentionEviction(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	store := newTestStore(t, 2, func(jobID string) { evicted = append(evicted, jobID) })

	ids := make([]string, 3)
	for i := range ids {
		job, err := store.Create(ctx, ports.JobInput{Command: "init", Prompt: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, job.ID, "ok"))
		ids[i] = job.ID
	}

	// capacity 2: the first terminal job was evicted
	require.Len(t, evicted, 1)
	assert.Equal(t, ids[0], evicted[0])

	_, err := store.Get(ctx, ids[0])
	assert.Error(t, err)
	_, err = store.Get(ctx, ids[2])
	assert.NoError(t, err)
}

func TestJobStoreList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10, nil)

	for i := 0; i < 3; i++ {
		job, err := store.Create(ctx, ports.JobInput{Command: "init", Prompt: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, store.Complete(ctx, job.ID, "ok"))
		}
	}

	jobs, total, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, jobs, 3)

	page, total, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}
