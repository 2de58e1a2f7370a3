package ports

import "fmt"

// TurnKind discriminates the history turn variants.
type TurnKind string

const (
	TurnUserText      TurnKind = "user_text"
	TurnAssistantText TurnKind = "assistant_text"
	TurnToolRequest   TurnKind = "tool_request"
	TurnToolResult    TurnKind = "tool_result"
)

// Turn is a single entry in a job's conversation history. Exactly one variant
// is populated, selected by Kind.
type Turn struct {
	Kind TurnKind `json:"kind"`

	// TurnUserText / TurnAssistantText
	Text string `json:"text,omitempty"`

	// TurnToolRequest
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// TurnToolRequest / TurnToolResult. CallID pairs a result with its request.
	CallID string `json:"call_id,omitempty"`

	// TurnToolResult
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// UserText creates a user text turn.
func UserText(text string) Turn {
	return Turn{Kind: TurnUserText, Text: text}
}

// AssistantText creates an assistant text turn.
func AssistantText(text string) Turn {
	return Turn{Kind: TurnAssistantText, Text: text}
}

// ToolRequestTurn creates a tool request turn.
func ToolRequestTurn(call ToolCall) Turn {
	return Turn{Kind: TurnToolRequest, Name: call.Name, Arguments: call.Arguments, CallID: call.ID}
}

// ToolResultTurn creates a tool result turn from an execution result.
func ToolResultTurn(result *ToolResult) Turn {
	t := Turn{Kind: TurnToolResult, CallID: result.CallID, Output: result.Content}
	if result.Error != nil {
		t.IsError = true
		if t.Output == "" {
			t.Output = result.Error.Error()
		}
	}
	return t
}

// CheckPairing verifies the history invariant: every tool request is followed
// by exactly one result with a matching call ID before the next assistant text.
func CheckPairing(history []Turn) error {
	pending := map[string]bool{}
	order := []string{}

	for i, turn := range history {
		switch turn.Kind {
		case TurnToolRequest:
			if turn.CallID == "" {
				return fmt.Errorf("turn %d: tool request without call_id", i)
			}
			if pending[turn.CallID] {
				return fmt.Errorf("turn %d: duplicate tool request call_id %q", i, turn.CallID)
			}
			pending[turn.CallID] = true
			order = append(order, turn.CallID)

		case TurnToolResult:
			if !pending[turn.CallID] {
				return fmt.Errorf("turn %d: tool result %q without matching request", i, turn.CallID)
			}
			delete(pending, turn.CallID)

		case TurnAssistantText, TurnUserText:
			if len(pending) > 0 {
				return fmt.Errorf("turn %d: %s while %d tool requests unresolved (first: %q)",
					i, turn.Kind, len(pending), firstPending(order, pending))
			}
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("history ends with %d unresolved tool requests (first: %q)",
			len(pending), firstPending(order, pending))
	}
	return nil
}

func firstPending(order []string, pending map[string]bool) string {
	for _, id := range order {
		if pending[id] {
			return id
		}
	}
	return ""
}
