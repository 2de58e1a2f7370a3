package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

type fileRead struct {
	cfg ToolConfig
}

func NewFileRead(cfg ToolConfig) ports.ToolExecutor {
	return &fileRead{cfg: cfg.withDefaults()}
}

func (t *fileRead) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	filePath, ok := stringArg(call.Arguments, "file_path")
	if !ok || filePath == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing or invalid 'file_path'")), nil
	}

	resolvedPath, err := resolveLocalPath(ctx, filePath)
	if err != nil {
		return errorResult(call.ID, err), nil
	}

	info, err := os.Stat(resolvedPath)
	if os.IsNotExist(err) {
		return errorResult(call.ID, oerr.New(oerr.KindNotFound, "file does not exist: %s", filePath)), nil
	}
	if err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to stat %s", filePath)), nil
	}
	if info.IsDir() {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "%s is a directory", filePath)), nil
	}
	if info.Size() > t.cfg.FileReadLimit {
		return errorResult(call.ID, oerr.New(oerr.KindTooLarge,
			"file %s is %d bytes, limit is %d", filePath, info.Size(), t.cfg.FileReadLimit)), nil
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to read %s", filePath)), nil
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)

	// Optional line range: offset is 1-based, limit counts lines.
	offset := 1
	if v, ok := intArg(call.Arguments, "offset"); ok && v > 0 {
		offset = v
	}
	limit := totalLines
	if v, ok := intArg(call.Arguments, "limit"); ok && v > 0 {
		limit = v
	}

	if offset > totalLines {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput,
			"offset %d beyond end of file (%d lines)", offset, totalLines)), nil
	}
	end := offset - 1 + limit
	if end > totalLines {
		end = totalLines
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d|%s\n", i+1, lines[i])
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"file_path":   filePath,
			"total_lines": totalLines,
			"offset":      offset,
			"lines_shown": end - offset + 1,
			"size_bytes":  info.Size(),
		},
	}, nil
}

func (t *fileRead) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "file_read",
		Description: `Read a file from the job working directory with line numbers.

- Paths are resolved against the working directory and must stay inside it
- Optional offset (1-based) and limit select a line range
- Files over the size limit are rejected; read a range instead`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path": {Type: "string", Description: "Path to the file to read"},
				"offset":    {Type: "integer", Description: "1-based line to start from (optional)"},
				"limit":     {Type: "integer", Description: "Maximum number of lines to return (optional)"},
			},
			Required: []string{"file_path"},
		},
	}
}

func (t *fileRead) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "file_read", Version: "1.0.0", Category: "file_operations",
		Tags: []string{"file", "read"},
	}
}
