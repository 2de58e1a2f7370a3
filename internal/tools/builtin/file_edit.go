package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

type fileEdit struct {
	cfg ToolConfig
}

func NewFileEdit(cfg ToolConfig) ports.ToolExecutor {
	return &fileEdit{cfg: cfg.withDefaults()}
}

func (t *fileEdit) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	filePath, ok := stringArg(call.Arguments, "file_path")
	if !ok || filePath == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing or invalid 'file_path'")), nil
	}

	oldString, ok := stringArg(call.Arguments, "old_string")
	if !ok || oldString == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'old_string'")), nil
	}

	newString, ok := stringArg(call.Arguments, "new_string")
	if !ok {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'new_string'")), nil
	}

	replaceAll := boolArg(call.Arguments, "replace_all")

	resolvedPath, err := resolveLocalPath(ctx, filePath)
	if err != nil {
		return errorResult(call.ID, err), nil
	}

	data, err := os.ReadFile(resolvedPath)
	if os.IsNotExist(err) {
		return errorResult(call.ID, oerr.New(oerr.KindNotFound, "file does not exist: %s", filePath)), nil
	}
	if err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to read %s", filePath)), nil
	}

	original := string(data)
	occurrences := strings.Count(original, oldString)

	// The file is never touched unless the edit is unambiguous.
	if occurrences == 0 {
		return errorResult(call.ID, oerr.New(oerr.KindNoMatch, "old_string not found in %s", filePath)), nil
	}
	if occurrences > 1 && !replaceAll {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput,
			"old_string appears %d times in %s; include more context to make it unique, or set replace_all", occurrences, filePath)), nil
	}

	replaced := 1
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(original, oldString, newString)
		replaced = occurrences
	} else {
		updated = strings.Replace(original, oldString, newString, 1)
	}

	if err := os.WriteFile(resolvedPath, []byte(updated), 0644); err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "failed to write %s", filePath)), nil
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Updated %s (%d replacement(s))", filePath, replaced),
		Metadata: map[string]any{
			"file_path":    filePath,
			"replacements": replaced,
			"lines_total":  len(strings.Split(updated, "\n")),
			"diff":         unifiedDiff(original, updated),
		},
	}, nil
}

// unifiedDiff renders a patch-style diff of the edit for the event stream.
func unifiedDiff(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(before, after)
	text := dmp.PatchToText(patches)

	const maxDiff = 4000
	if len(text) > maxDiff {
		text = text[:maxDiff] + "\n... (diff truncated)"
	}
	return text
}

func (t *fileEdit) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "file_edit",
		Description: `Edit a file by exact string replacement.

Usage:
- old_string must match the file content exactly, including whitespace
- The match must be unique unless replace_all is set
- The file is left untouched when the edit is rejected
- Use file_read first and copy the exact text to replace`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"file_path":   {Type: "string", Description: "Path to the file to modify"},
				"old_string":  {Type: "string", Description: "Exact text to replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace every occurrence (default false)"},
			},
			Required: []string{"file_path", "old_string", "new_string"},
		},
	}
}

func (t *fileEdit) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "file_edit", Version: "1.0.0", Category: "file_operations",
		Tags: []string{"file", "edit", "replace", "diff"}, Dangerous: true,
	}
}
