package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

type fileWrite struct {
	cfg ToolConfig
}

func NewFileWrite(cfg ToolConfig) ports.ToolExecutor {
	return &fileWrite{cfg: cfg.withDefaults()}
}

func (t *fileWrite) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	filePath, ok := stringArg(call.Arguments, "file_path")
	if !ok || filePath == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing or invalid 'file_path'")), nil
	}

	content, ok := stringArg(call.Arguments, "content")
	if !ok {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'content'")), nil
	}

	resolvedPath, err := resolveLocalPath(ctx, filePath)
	if err != nil {
		return errorResult(call.ID, err), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolvedPath), 0755); err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to create parent directories")), nil
	}

	existed := false
	if _, err := os.Stat(resolvedPath); err == nil {
		existed = true
	}

	if err := os.WriteFile(resolvedPath, []byte(content), 0644); err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to write %s", filePath)), nil
	}

	operation := "Created"
	if existed {
		operation = "Overwrote"
	}
	lineCount := len(strings.Split(content, "\n"))

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("%s %s (%d bytes, %d lines)", operation, filePath, len(content), lineCount),
		Metadata: map[string]any{
			"file_path":     filePath,
			"bytes_written": len(content),
			"lines_total":   lineCount,
			"overwrote":     existed,
		},
	}, nil
}

func (t *fileWrite) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "file_write",
		Description: `Write a file inside the job working directory.

- Creates parent directories as needed
- Overwrites the file if it already exists
- Use file_edit for targeted changes to existing files`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path": {Type: "string", Description: "Path to the file to write"},
				"content":   {Type: "string", Description: "Full file content"},
			},
			Required: []string{"file_path", "content"},
		},
	}
}

func (t *fileWrite) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "file_write", Version: "1.0.0", Category: "file_operations",
		Tags: []string{"file", "write"}, Dangerous: true,
	}
}
