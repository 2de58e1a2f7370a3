package agent

import (
	"context"
	"errors"
	"sort"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/llm"
	"oape/internal/logging"
	"oape/internal/tools/builtin"
)

// State is the engine's position in the loop state machine.
type State string

const (
	StateInit               State = "init"
	StateAwaitingCompletion State = "awaiting_completion"
	StateExecutingTools     State = "executing_tools"
	StateDone               State = "done"
)

const (
	// DefaultMaxIterations bounds the completion/tool cycle per job.
	DefaultMaxIterations = 50
	// DefaultTokenBudget bounds cumulative token usage per job.
	DefaultTokenBudget = 500_000
)

// Config tunes one engine instance.
type Config struct {
	MaxIterations int
	TokenBudget   int
	Temperature   float64
	MaxTokens     int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	return c
}

// Engine drives the agent loop: completion, tool execution, repeat until the
// model stops requesting tools or a bound is hit. It implements
// ports.JobRunner.
type Engine struct {
	client   ports.LLMClient
	registry ports.ToolRegistry
	config   Config
	logger   logging.Logger
}

// NewEngine creates an engine over a completion client and tool registry.
func NewEngine(client ports.LLMClient, registry ports.ToolRegistry, config Config) *Engine {
	return &Engine{
		client:   client,
		registry: registry,
		config:   config.withDefaults(),
		logger:   logging.NewComponentLogger("agent"),
	}
}

// Run executes the loop for one job. Every history append is reported through
// onTurn before the loop takes its next step, so the event stream mirrors the
// history exactly. Tool failures are fed back to the model as tool results;
// only upstream failures, budget breaches and cancellation end the run with
// an error. The returned result is non-nil even on error and carries the
// usage accumulated so far.
func (e *Engine) Run(ctx context.Context, spec ports.JobRunSpec, onTurn func(ports.Turn)) (*ports.JobRunResult, error) {
	ctx = builtin.WithWorkingDir(ctx, spec.WorkingDir)

	result := &ports.JobRunResult{}
	emit := func(turn ports.Turn) {
		if onTurn != nil {
			onTurn(turn)
		}
	}

	history := []ports.Turn{ports.UserText(spec.Prompt)}
	emit(history[0])

	tools := e.toolDefinitions()
	state := StateAwaitingCompletion
	lastText := ""

	for iteration := 1; iteration <= e.config.MaxIterations; iteration++ {
		result.Iterations = iteration
		if err := ctx.Err(); err != nil {
			return result, err
		}

		e.logger.Debug("job %s iteration %d state=%s history=%d", spec.JobID, iteration, state, len(history))

		resp, err := e.client.Complete(ctx, ports.CompletionRequest{
			SystemPrompt: spec.SystemPrompt,
			History:      history,
			Tools:        tools,
			Temperature:  e.config.Temperature,
			MaxTokens:    e.config.MaxTokens,
		})
		if err != nil {
			return result, err
		}
		roundUsage := e.usageFor(resp, history)
		result.Usage.Add(roundUsage)
		if spec.OnUsage != nil {
			spec.OnUsage(roundUsage)
		}

		if resp.Content != "" {
			turn := ports.AssistantText(resp.Content)
			history = append(history, turn)
			emit(turn)
			lastText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			state = StateDone
			result.Output = lastText
			e.logger.Info("job %s done after %d iterations (%d tokens)", spec.JobID, iteration, result.Usage.TotalTokens)
			return result, nil
		}

		state = StateExecutingTools
		for _, call := range resp.ToolCalls {
			call.JobID = spec.JobID

			reqTurn := ports.ToolRequestTurn(call)
			history = append(history, reqTurn)
			emit(reqTurn)

			toolResult, err := e.executeCall(ctx, call)
			if err != nil {
				return result, err
			}

			resTurn := ports.ToolResultTurn(toolResult)
			history = append(history, resTurn)
			emit(resTurn)
		}
		state = StateAwaitingCompletion

		if result.Usage.TotalTokens > e.config.TokenBudget {
			return result, oerr.New(oerr.KindResourceExhausted,
				"token budget exhausted: %d used of %d", result.Usage.TotalTokens, e.config.TokenBudget)
		}
	}

	return result, oerr.New(oerr.KindResourceExhausted,
		"iteration limit reached: %d", e.config.MaxIterations)
}

// executeCall runs one tool call. Tool-level failures come back as an error
// result for the model; only cancellation propagates as a run error.
func (e *Engine) executeCall(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	executor, err := e.registry.Get(call.Name)
	if err != nil {
		return e.errorResult(call, err), nil
	}

	result, err := executor.Execute(ctx, call)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, err
		}
		return e.errorResult(call, err), nil
	}
	if result == nil {
		return e.errorResult(call, oerr.New(oerr.KindInternal, "tool %s returned no result", call.Name)), nil
	}
	return result, nil
}

func (e *Engine) errorResult(call ports.ToolCall, err error) *ports.ToolResult {
	e.logger.Warn("tool %s failed (call %s): %v", call.Name, call.ID, err)
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: oerr.FormatForLLM(err),
		Error:   err,
		JobID:   call.JobID,
	}
}

// usageFor returns the response usage, estimating both sides when the
// upstream omitted token counts: the prompt from the history that was sent,
// the completion from the response text.
func (e *Engine) usageFor(resp *ports.CompletionResponse, sent []ports.Turn) ports.TokenUsage {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage
	}
	prompt := llm.EstimateHistoryTokens(sent)
	completion := llm.EstimateTokens(resp.Content)
	return ports.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func (e *Engine) toolDefinitions() []ports.ToolDefinition {
	defs := e.registry.List()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
