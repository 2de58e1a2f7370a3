package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

func testRetryConfig() oerr.RetryConfig {
	return oerr.RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func testBreaker() *oerr.CircuitBreaker {
	return oerr.NewCircuitBreaker("test", oerr.DefaultCircuitBreakerConfig())
}

func TestRetryClientRetriesRateLimit(t *testing.T) {
	mock := NewMockClient(
		ErrStep(NewHTTPStatusError(429, "Too Many Requests", "")),
		TextStep("recovered"),
	)
	client := NewRetryClient(mock, testRetryConfig(), testBreaker())

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{
		History: []ports.Turn{ports.UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("content = %q", resp.Content)
	}
	if mock.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", mock.Calls())
	}
}

func TestRetryClientDoesNotRetryAuthFailure(t *testing.T) {
	mock := NewMockClient(
		ErrStep(NewHTTPStatusError(401, "Unauthorized", "")),
		TextStep("should never happen"),
	)
	client := NewRetryClient(mock, testRetryConfig(), testBreaker())

	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if oerr.KindOf(err) != oerr.KindUpstreamError {
		t.Fatalf("kind = %v", oerr.KindOf(err))
	}
	if mock.Calls() != 1 {
		t.Fatalf("permanent error retried, calls = %d", mock.Calls())
	}
}

func TestRetryClientExhaustionIsUpstreamError(t *testing.T) {
	mock := NewMockClient(
		ErrStep(NewHTTPStatusError(503, "Service Unavailable", "")),
		ErrStep(NewHTTPStatusError(503, "Service Unavailable", "")),
		ErrStep(NewHTTPStatusError(503, "Service Unavailable", "")),
	)
	client := NewRetryClient(mock, testRetryConfig(), testBreaker())

	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if oerr.KindOf(err) != oerr.KindUpstreamError {
		t.Fatalf("kind = %v (%v)", oerr.KindOf(err), err)
	}
	if mock.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", mock.Calls())
	}
}

func TestClassifyCompletionErrorNetwork(t *testing.T) {
	err := classifyCompletionError(errors.New("dial tcp: connection refused"))
	if !oerr.IsTransient(err) {
		t.Fatalf("connection refused should be transient: %v", err)
	}

	err = classifyCompletionError(context.Canceled)
	if oerr.IsTransient(err) {
		t.Fatal("cancellation must not be retried")
	}
}

func TestEstimateTokens(t *testing.T) {
	n := EstimateTokens("hello world, this is a token count probe")
	if n <= 0 || n > 40 {
		t.Fatalf("EstimateTokens = %d", n)
	}
	if EstimateTokens("") != 0 {
		t.Fatal("empty string should be zero tokens")
	}
}

func TestEstimateHistoryTokensGrowsWithHistory(t *testing.T) {
	short := EstimateHistoryTokens([]ports.Turn{ports.UserText("hi")})
	long := EstimateHistoryTokens([]ports.Turn{
		ports.UserText("hi"),
		ports.AssistantText("a much longer answer with many more words in it"),
	})
	if long <= short {
		t.Fatalf("long=%d short=%d", long, short)
	}
}
