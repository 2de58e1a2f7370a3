package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	agentports "oape/internal/agent/ports"
)

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// StatusExpired is emitted on the event stream when a terminal job is evicted
// from retention. It is not a JobStatus: the job record is gone at that point.
const StatusExpired = "expired"

// JobInput is the validated submission that created a job.
type JobInput struct {
	Command    string `json:"command"`
	Prompt     string `json:"prompt"`
	WorkingDir string `json:"working_dir"`
}

// Job is one agent run. After creation only the owning agent loop writes to
// it, always through the store so readers see consistent snapshots.
type Job struct {
	ID          string                `json:"job_id"`
	Status      JobStatus             `json:"status"`
	Input       JobInput              `json:"input"`
	History     []agentports.Turn     `json:"history,omitempty"`
	Usage       agentports.TokenUsage `json:"usage"`
	Result      string                `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
	Iterations  int                   `json:"iterations"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// NewJob creates a queued job for the given input.
func NewJob(input JobInput) *Job {
	return &Job{
		ID:        fmt.Sprintf("job-%s", uuid.New().String()),
		Status:    JobStatusQueued,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	out := *j
	if j.History != nil {
		out.History = make([]agentports.Turn, len(j.History))
		copy(out.History, j.History)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// JobStore manages job lifecycle. Get returns snapshots; mutation methods are
// only called by the goroutine that owns the job.
type JobStore interface {
	// Create registers a new queued job.
	Create(ctx context.Context, input JobInput) (*Job, error)

	// Get retrieves a snapshot of a job by ID.
	Get(ctx context.Context, jobID string) (*Job, error)

	// List returns job snapshots, newest first.
	List(ctx context.Context, limit, offset int) ([]*Job, int, error)

	// MarkRunning transitions the job to running and stamps StartedAt.
	MarkRunning(ctx context.Context, jobID string) error

	// AppendTurn appends one history turn.
	AppendTurn(ctx context.Context, jobID string, turn agentports.Turn) error

	// AddUsage accumulates token usage.
	AddUsage(ctx context.Context, jobID string, usage agentports.TokenUsage) error

	// SetIterations records the loop iteration count.
	SetIterations(ctx context.Context, jobID string, iterations int) error

	// Complete finishes the job successfully with its final output.
	Complete(ctx context.Context, jobID, result string) error

	// Fail finishes the job with an error. Partial history is retained.
	Fail(ctx context.Context, jobID string, err error) error
}
