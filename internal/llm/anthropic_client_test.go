package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"oape/internal/agent/ports"
)

func TestConvertHistoryMergesBlocks(t *testing.T) {
	history := []ports.Turn{
		ports.UserText("do the thing"),
		ports.AssistantText("on it"),
		ports.ToolRequestTurn(ports.ToolCall{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "ls"}}),
		ports.ToolRequestTurn(ports.ToolCall{ID: "c2", Name: "glob", Arguments: map[string]any{"pattern": "*.go"}}),
		ports.ToolResultTurn(&ports.ToolResult{CallID: "c1", Content: "a b"}),
		ports.ToolResultTurn(&ports.ToolResult{CallID: "c2", Content: "main.go"}),
	}

	messages := convertHistory(history)
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3 (user, assistant, user)", len(messages))
	}

	// assistant message holds the text plus both tool_use blocks
	asst := messages[1]
	if asst.Role != "assistant" || len(asst.Content) != 3 {
		t.Fatalf("assistant message: role=%s blocks=%d", asst.Role, len(asst.Content))
	}
	if asst.Content[1]["type"] != "tool_use" || asst.Content[1]["id"] != "c1" {
		t.Fatalf("tool_use block = %v", asst.Content[1])
	}

	// both results collapse into one user message
	results := messages[2]
	if results.Role != "user" || len(results.Content) != 2 {
		t.Fatalf("result message: role=%s blocks=%d", results.Role, len(results.Content))
	}
	if results.Content[0]["tool_use_id"] != "c1" {
		t.Fatalf("result block = %v", results.Content[0])
	}
}

func TestConvertHistoryMarksErrors(t *testing.T) {
	history := []ports.Turn{
		ports.ToolRequestTurn(ports.ToolCall{ID: "c1", Name: "bash"}),
		{Kind: ports.TurnToolResult, CallID: "c1", Output: "boom", IsError: true},
	}
	messages := convertHistory(history)
	block := messages[1].Content[0]
	if block["is_error"] != true {
		t.Fatalf("is_error missing: %v", block)
	}
}

func TestDecodeToolInputRepairsMalformedJSON(t *testing.T) {
	// trailing comma, unquoted key: typical model damage
	raw := json.RawMessage(`{command: "echo hi",}`)
	args, err := decodeToolInput(raw)
	if err != nil {
		t.Fatalf("decodeToolInput: %v", err)
	}
	if args["command"] != "echo hi" {
		t.Fatalf("args = %v", args)
	}
}

func TestDecodeToolInputEmpty(t *testing.T) {
	args, err := decodeToolInput(nil)
	if err != nil || args == nil {
		t.Fatalf("empty input: %v / %v", args, err)
	}
}

func TestAnthropicClientCompleteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(anthropicAPIKeyHeaderKey) == "" {
			t.Error("missing api key header")
		}
		if r.Header.Get(anthropicVersionHeaderKey) != defaultAnthropicVersion {
			t.Errorf("version header = %q", r.Header.Get(anthropicVersionHeaderKey))
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["system"] != "be helpful" {
			t.Errorf("system = %v", payload["system"])
		}

		fmt.Fprint(w, `{
			"id": "msg_1",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "tu_1", "name": "bash", "input": {"command": "ls"}}
			],
			"usage": {"input_tokens": 40, "output_tokens": 12}
		}`)
	}))
	defer srv.Close()

	client, err := NewAnthropicClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{
		SystemPrompt: "be helpful",
		History:      []ports.Turn{ports.UserText("list files")},
		Tools:        []ports.ToolDefinition{{Name: "bash"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "let me check" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" || resp.ToolCalls[0].ID != "tu_1" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["command"] != "ls" {
		t.Errorf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 52 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`)
	}))
	defer srv.Close()

	client, _ := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), ports.CompletionRequest{
		History: []ports.Turn{ports.UserText("hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var httpErr *HTTPStatusError
	if !asHTTP(err, &httpErr) || httpErr.StatusCode != 429 {
		t.Fatalf("error = %v", err)
	}
}

func asHTTP(err error, target **HTTPStatusError) bool {
	he, ok := err.(*HTTPStatusError)
	if ok {
		*target = he
	}
	return ok
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
