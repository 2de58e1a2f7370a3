package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/logging"
)

// retryClient wraps a completion client with retry logic and a circuit
// breaker. It retries only the failed HTTP call itself; the agent loop owns
// sequencing, so a completion is never replayed after tool side effects.
type retryClient struct {
	underlying     ports.LLMClient
	retryConfig    oerr.RetryConfig
	circuitBreaker *oerr.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps client with retry and circuit breaker protection.
func NewRetryClient(client ports.LLMClient, retryConfig oerr.RetryConfig, circuitBreaker *oerr.CircuitBreaker) ports.LLMClient {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

// WrapWithRetry wraps an existing client using the provided configurations.
func WrapWithRetry(client ports.LLMClient, retryConfig oerr.RetryConfig, cbConfig oerr.CircuitBreakerConfig) ports.LLMClient {
	breaker := oerr.NewCircuitBreaker(fmt.Sprintf("llm-%s", client.Model()), cbConfig)
	return NewRetryClient(client, retryConfig, breaker)
}

func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	startTime := time.Now()

	resp, err := oerr.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return oerr.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			response, err := c.underlying.Complete(ctx, req)
			if err != nil {
				return nil, classifyCompletionError(err)
			}
			return response, nil
		})
	}, c.logger)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("completion failed after retries (took %v): %v", duration, err)
		return nil, oerr.Wrap(oerr.KindUpstreamError, err,
			"completion service unavailable: %s", oerr.FormatForLLM(err))
	}

	if duration > 5*time.Second {
		c.logger.Debug("completion succeeded after %v", duration)
	}

	return resp, nil
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

// classifyCompletionError marks upstream failures as transient or permanent
// so the retry helper can decide.
func classifyCompletionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return oerr.NewTransientError(err, "API rate limit reached. Retrying with exponential backoff.")
		case httpErr.StatusCode >= 500:
			return oerr.NewTransientError(err, fmt.Sprintf("Server error (%d). Retrying request.", httpErr.StatusCode))
		case httpErr.StatusCode == 401:
			return oerr.NewPermanentError(err, "Authentication failed. Check the API key configuration.")
		case httpErr.StatusCode == 403:
			return oerr.NewPermanentError(err, "Permission denied for this model or resource.")
		case httpErr.StatusCode == 404:
			return oerr.NewPermanentError(err, "Model or endpoint not found. Verify the model name.")
		case httpErr.StatusCode >= 400:
			return oerr.NewPermanentError(err, "Invalid request. Check the parameters.")
		}
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "connection refused"),
		strings.Contains(lowerErr, "connection reset"),
		strings.Contains(lowerErr, "broken pipe"),
		strings.Contains(lowerErr, "timeout"),
		strings.Contains(lowerErr, "deadline exceeded"),
		strings.Contains(lowerErr, "dns"):
		return oerr.NewTransientError(err, "Network issue reaching the completion service. Retrying request.")
	}

	return err
}

// HTTPStatusError represents an HTTP error with status code.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPStatusError creates an HTTP status error.
func NewHTTPStatusError(statusCode int, status, body string) error {
	return &HTTPStatusError{StatusCode: statusCode, Status: status, Body: body}
}
