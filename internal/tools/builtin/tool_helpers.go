package builtin

import (
	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

// errorResult wraps a tool failure so the loop feeds it back to the model.
func errorResult(callID string, err error) *ports.ToolResult {
	return &ports.ToolResult{
		CallID:  callID,
		Content: oerr.FormatForLLM(err),
		Error:   err,
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intArg accepts both float64 (JSON numbers) and int values.
func intArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
