package ports

import "context"

// JobRunSpec describes one agent run: the composed system prompt, the initial
// user turn and the working directory all tool calls are confined to.
type JobRunSpec struct {
	JobID        string
	SystemPrompt string
	Prompt       string
	WorkingDir   string

	// OnUsage, when set, receives the token delta of each completion round as
	// it happens, so callers can expose live usage for a running job. The
	// cumulative total is still returned in JobRunResult.
	OnUsage func(TokenUsage)
}

// JobRunResult is the outcome of a successful run.
type JobRunResult struct {
	Output     string
	Usage      TokenUsage
	Iterations int
}

// JobRunner executes the agent loop for a job. onTurn is invoked once per
// history append, in append order, from the loop goroutine. A failed run may
// still return a non-nil result carrying the usage accumulated so far.
type JobRunner interface {
	Run(ctx context.Context, spec JobRunSpec, onTurn func(Turn)) (*JobRunResult, error)
}
