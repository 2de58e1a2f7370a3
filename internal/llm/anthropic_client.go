package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/logging"
)

const (
	defaultAnthropicBaseURL     = "https://api.anthropic.com/v1"
	defaultAnthropicVersion     = "2023-06-01"
	anthropicVersionHeaderKey   = "anthropic-version"
	anthropicAPIKeyHeaderKey    = "x-api-key"
	anthropicMessagesPath       = "/messages"
	anthropicRequestContentType = "application/json"
)

type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
}

// NewAnthropicClient creates a completion client speaking the Anthropic
// messages API.
func NewAnthropicClient(config Config) (ports.LLMClient, error) {
	config = config.withDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicBaseURL
	}
	if config.APIKey == "" {
		return nil, oerr.New(oerr.KindInvalidInput, "anthropic API key is required")
	}

	return &anthropicClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		maxTokens:  config.MaxTokens,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logging.NewComponentLogger("llm-anthropic"),
		headers:    config.Headers,
	}, nil
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *anthropicClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages":   convertHistory(req.History),
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertTools(req.Tools)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + anthropicMessagesPath
	c.logger.Debug("POST %s model=%s turns=%d tools=%d", endpoint, c.model, len(req.History), len(req.Tools))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", anthropicRequestContentType)
	httpReq.Header.Set(anthropicAPIKeyHeaderKey, c.apiKey)
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, oerr.Wrap(oerr.KindNetworkError, err, "completion request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("completion error status %d: %s", resp.StatusCode, truncateForLog(respBody))
		return nil, NewHTTPStatusError(resp.StatusCode, resp.Status, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, NewHTTPStatusError(resp.StatusCode, apiResp.Error.Type, apiResp.Error.Message)
	}

	var content strings.Builder
	var toolCalls []ports.ToolCall
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, err := decodeToolInput(block.Input)
			if err != nil {
				c.logger.Warn("unparseable tool input for %s: %v", block.Name, err)
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ports.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	result := &ports.CompletionResponse{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: apiResp.StopReason,
		Usage: ports.TokenUsage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}

	c.logger.Debug("completion ok stop=%s content=%dB tool_calls=%d usage=%d+%d",
		result.StopReason, len(result.Content), len(result.ToolCalls),
		result.Usage.PromptTokens, result.Usage.CompletionTokens)

	return result, nil
}

func (c *anthropicClient) Model() string {
	return c.model
}

// convertHistory maps turns to Anthropic messages. Consecutive turns that
// share a wire role collapse into one message with multiple content blocks,
// which the API requires for parallel tool calls.
func convertHistory(history []ports.Turn) []anthropicMessage {
	var messages []anthropicMessage

	appendBlock := func(role string, block map[string]any) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, block)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: []map[string]any{block}})
	}

	for _, turn := range history {
		switch turn.Kind {
		case ports.TurnUserText:
			appendBlock("user", map[string]any{"type": "text", "text": turn.Text})

		case ports.TurnAssistantText:
			appendBlock("assistant", map[string]any{"type": "text", "text": turn.Text})

		case ports.TurnToolRequest:
			input := turn.Arguments
			if input == nil {
				input = map[string]any{}
			}
			appendBlock("assistant", map[string]any{
				"type":  "tool_use",
				"id":    turn.CallID,
				"name":  turn.Name,
				"input": input,
			})

		case ports.TurnToolResult:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": turn.CallID,
				"content":     turn.Output,
			}
			if turn.IsError {
				block["is_error"] = true
			}
			appendBlock("user", block)
		}
	}

	return messages
}

func convertTools(tools []ports.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		out = append(out, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.Parameters,
		})
	}
	return out
}

// decodeToolInput unmarshals tool arguments, repairing malformed JSON the
// model occasionally emits before giving up.
func decodeToolInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, fmt.Errorf("repair tool input: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("parse repaired tool input: %w", err)
	}
	return args, nil
}

func truncateForLog(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
