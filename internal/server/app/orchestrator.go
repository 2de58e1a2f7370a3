package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	agentports "oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/logging"
	"oape/internal/prompts"
	"oape/internal/server/ports"
)

// DefaultMaxConcurrentJobs caps how many agent loops run at once.
const DefaultMaxConcurrentJobs = 4

// SubmitRequest is an unvalidated job submission.
type SubmitRequest struct {
	Command    string `json:"command" form:"command"`
	Prompt     string `json:"prompt" form:"prompt"`
	WorkingDir string `json:"working_dir" form:"working_dir"`
}

// Orchestrator owns the job lifecycle: validation, scheduling on a bounded
// worker pool, event emission and cancellation.
type Orchestrator struct {
	store       ports.JobStore
	broadcaster *EventBroadcaster
	loader      *prompts.Loader
	runner      agentports.JobRunner
	sem         *semaphore.Weighted
	logger      logging.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

// NewOrchestrator wires the orchestrator. maxConcurrent <= 0 selects the
// default pool size.
func NewOrchestrator(store ports.JobStore, broadcaster *EventBroadcaster, loader *prompts.Loader, runner agentports.JobRunner, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:       store,
		broadcaster: broadcaster,
		loader:      loader,
		runner:      runner,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		logger:      logging.NewComponentLogger("orchestrator"),
		baseCtx:     baseCtx,
		stop:        stop,
		cancels:     make(map[string]context.CancelFunc),
		done:        make(map[string]chan struct{}),
	}
}

// Submit validates the request, creates a queued job and schedules its loop.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*ports.Job, error) {
	job, _, err := o.submit(ctx, req)
	return job, err
}

// submit also returns the job's done channel, captured at registration so
// callers waiting on it never race the loop's cleanup.
func (o *Orchestrator) submit(ctx context.Context, req SubmitRequest) (*ports.Job, chan struct{}, error) {
	if !o.loader.Validate(req.Command) {
		return nil, nil, oerr.New(oerr.KindInvalidInput, "unknown command: %s (available: %s)",
			req.Command, strings.Join(o.loader.CommandNames(), ", "))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, nil, oerr.New(oerr.KindInvalidInput, "prompt must not be empty")
	}
	workingDir, err := resolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, nil, err
	}

	job, err := o.store.Create(ctx, ports.JobInput{
		Command:    req.Command,
		Prompt:     req.Prompt,
		WorkingDir: workingDir,
	})
	if err != nil {
		return nil, nil, err
	}

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	doneCh := make(chan struct{})
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.done[job.ID] = doneCh
	o.mu.Unlock()

	o.publishStatus(job.ID, string(ports.JobStatusQueued), "")

	o.wg.Add(1)
	go o.runJob(jobCtx, job.Clone(), doneCh)

	return job, doneCh, nil
}

// GetJob returns a snapshot of a job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*ports.Job, error) {
	return o.store.Get(ctx, jobID)
}

// ListJobs returns job snapshots, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit, offset int) ([]*ports.Job, int, error) {
	return o.store.List(ctx, limit, offset)
}

// Run submits a job and blocks until it reaches a terminal state, returning
// the final snapshot. The context bounds the wait, not the job itself.
func (o *Orchestrator) Run(ctx context.Context, req SubmitRequest) (*ports.Job, error) {
	job, doneCh, err := o.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	select {
	case <-doneCh:
		return o.store.Get(ctx, job.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe attaches a stream client to a job: replayed events first, then
// live events on the channel. Unknown jobs are an error.
func (o *Orchestrator) Subscribe(ctx context.Context, jobID string) ([]agentports.JobEvent, <-chan agentports.JobEvent, func(), error) {
	if _, err := o.store.Get(ctx, jobID); err != nil {
		return nil, nil, nil, err
	}
	replay, events, cancel := o.broadcaster.Subscribe(jobID)
	return replay, events, cancel, nil
}

// Cancel stops a running job. The in-flight tool call or completion sees the
// context cancellation; the job terminates as failed.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return oerr.New(oerr.KindInvalidInput, "job already %s: %s", job.Status, jobID)
	}

	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if !ok {
		return oerr.New(oerr.KindNotFound, "job not active: %s", jobID)
	}

	o.logger.Info("cancelling job %s", jobID)
	cancel()
	return nil
}

// Commands exposes the command catalog for the API layer.
func (o *Orchestrator) Commands() []prompts.Command {
	return o.loader.Commands()
}

// BroadcasterMetrics exposes streaming counters for diagnostics.
func (o *Orchestrator) BroadcasterMetrics() Metrics {
	return o.broadcaster.GetMetrics()
}

// OnJobEvicted is wired as the store's eviction hook.
func (o *Orchestrator) OnJobEvicted(jobID string) {
	o.broadcaster.DropJob(jobID)
}

// Shutdown cancels all running jobs and waits for their loops to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob drives one job from queued to terminal.
func (o *Orchestrator) runJob(ctx context.Context, job *ports.Job, doneCh chan struct{}) {
	defer o.wg.Done()
	defer close(doneCh)
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.cancels[job.ID]; ok {
			cancel()
			delete(o.cancels, job.ID)
		}
		delete(o.done, job.ID)
		o.mu.Unlock()
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failJob(job.ID, oerr.Wrap(oerr.KindInternal, err, "job cancelled while queued"))
		return
	}
	defer o.sem.Release(1)

	if err := o.store.MarkRunning(ctx, job.ID); err != nil {
		o.logger.Error("mark running %s: %v", job.ID, err)
		return
	}
	o.publishStatus(job.ID, string(ports.JobStatusRunning), "")

	systemPrompt, err := o.loader.SystemPrompt(job.Input.Command, job.Input.WorkingDir)
	if err != nil {
		o.failJob(job.ID, err)
		return
	}

	// reported tracks usage already stored through OnUsage, so status reads
	// on a running job see cumulative counts. Only the run goroutine touches
	// it.
	var reported agentports.TokenUsage

	spec := agentports.JobRunSpec{
		JobID:        job.ID,
		SystemPrompt: systemPrompt,
		Prompt:       o.loader.UserPrompt(job.Input.Command, job.Input.Prompt),
		WorkingDir:   job.Input.WorkingDir,
		OnUsage: func(usage agentports.TokenUsage) {
			reported.Add(usage)
			if err := o.store.AddUsage(context.Background(), job.ID, usage); err != nil {
				o.logger.Error("add usage %s: %v", job.ID, err)
			}
		},
	}

	result, runErr := o.runner.Run(ctx, spec, func(turn agentports.Turn) {
		if err := o.store.AppendTurn(context.Background(), job.ID, turn); err != nil {
			o.logger.Error("append turn %s: %v", job.ID, err)
		}
		o.broadcaster.Publish(agentports.JobEvent{
			JobID: job.ID,
			Type:  agentports.EventTurn,
			Turn:  &turn,
		})
	})

	// Partial usage and iteration counts are kept even when the run failed.
	// Runners that never call OnUsage still have their total recorded here.
	if result != nil {
		if remainder := usageRemainder(result.Usage, reported); remainder.TotalTokens > 0 {
			_ = o.store.AddUsage(context.Background(), job.ID, remainder)
		}
		_ = o.store.SetIterations(context.Background(), job.ID, result.Iterations)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && o.baseCtx.Err() == nil {
			runErr = oerr.Wrap(oerr.KindInternal, runErr, "job cancelled by request")
		}
		o.failJob(job.ID, runErr)
		return
	}

	if err := o.store.Complete(context.Background(), job.ID, result.Output); err != nil {
		o.logger.Error("complete %s: %v", job.ID, err)
		return
	}
	o.publishStatus(job.ID, string(ports.JobStatusCompleted), "")
	o.logger.Info("job %s completed (%d iterations, %d tokens)", job.ID, result.Iterations, result.Usage.TotalTokens)
}

func (o *Orchestrator) failJob(jobID string, err error) {
	if storeErr := o.store.Fail(context.Background(), jobID, err); storeErr != nil {
		o.logger.Error("fail %s: %v", jobID, storeErr)
		return
	}
	o.publishStatus(jobID, string(ports.JobStatusFailed), err.Error())
	o.logger.Warn("job %s failed: %v", jobID, err)
}

func (o *Orchestrator) publishStatus(jobID, status, errMsg string) {
	o.broadcaster.Publish(agentports.JobEvent{
		JobID:  jobID,
		Type:   agentports.EventStatus,
		Status: status,
		Error:  errMsg,
	})
}

// usageRemainder returns the part of total not yet reported live.
func usageRemainder(total, reported agentports.TokenUsage) agentports.TokenUsage {
	remainder := agentports.TokenUsage{
		PromptTokens:     total.PromptTokens - reported.PromptTokens,
		CompletionTokens: total.CompletionTokens - reported.CompletionTokens,
		TotalTokens:      total.TotalTokens - reported.TotalTokens,
	}
	if remainder.PromptTokens < 0 {
		remainder.PromptTokens = 0
	}
	if remainder.CompletionTokens < 0 {
		remainder.CompletionTokens = 0
	}
	if remainder.TotalTokens < 0 {
		remainder.TotalTokens = 0
	}
	return remainder
}

// resolveWorkingDir validates the submitted working directory, defaulting to
// the server's own working directory when empty.
func resolveWorkingDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", oerr.Wrap(oerr.KindInternal, err, "resolve server working directory")
		}
		return cwd, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", oerr.New(oerr.KindInvalidWorkingDir, "working directory is not a valid path: %s", dir)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", oerr.New(oerr.KindInvalidWorkingDir, "working directory does not exist: %s", abs)
	}
	return abs, nil
}
