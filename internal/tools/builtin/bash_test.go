package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return WithWorkingDir(context.Background(), t.TempDir())
}

func TestBashCapturesStdout(t *testing.T) {
	tool := NewBash(ToolConfig{})
	res, err := tool.Execute(testCtx(t), ports.ToolCall{
		ID:        "c1",
		Arguments: map[string]any{"command": "echo hello"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("unexpected tool error: %v", res.Error)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestBashNonZeroExitIsInformation(t *testing.T) {
	tool := NewBash(ToolConfig{})
	res, err := tool.Execute(testCtx(t), ports.ToolCall{
		ID:        "c1",
		Arguments: map[string]any{"command": "echo oops >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("non-zero exit should not be a tool error, got %v", res.Error)
	}
	if !strings.Contains(res.Content, "[exit code: 3]") {
		t.Fatalf("content missing exit code: %q", res.Content)
	}
	if !strings.Contains(res.Content, "[stderr]") || !strings.Contains(res.Content, "oops") {
		t.Fatalf("content missing stderr: %q", res.Content)
	}
	if res.Metadata["exit_code"] != 3 {
		t.Fatalf("metadata exit_code = %v", res.Metadata["exit_code"])
	}
}

func TestBashRunsInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	ctx := WithWorkingDir(context.Background(), dir)
	tool := NewBash(ToolConfig{})
	if _, err := tool.Execute(ctx, ports.ToolCall{
		ID:        "c1",
		Arguments: map[string]any{"command": "echo marker > note.txt"},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res, err := tool.Execute(ctx, ports.ToolCall{
		ID:        "c2",
		Arguments: map[string]any{"command": "cat note.txt"},
	})
	if err != nil || res.Error != nil {
		t.Fatalf("Execute: %v / %v", err, res.Error)
	}
	if !strings.Contains(res.Content, "marker") {
		t.Fatalf("command did not run in working dir: %q", res.Content)
	}
}

func TestBashTimeoutKillsCommand(t *testing.T) {
	tool := NewBash(ToolConfig{ShellTimeout: 300 * time.Millisecond})
	start := time.Now()
	res, err := tool.Execute(testCtx(t), ports.ToolCall{
		ID:        "c1",
		Arguments: map[string]any{"command": "echo partial; sleep 10"},
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout did not kill the command, elapsed %v", elapsed)
	}
	if res.Error == nil || oerr.KindOf(res.Error) != oerr.KindTimeout {
		t.Fatalf("expected timeout error, got %v", res.Error)
	}
	if res.Metadata["exit_code"] != timeoutExitCode {
		t.Fatalf("exit_code = %v, want %d", res.Metadata["exit_code"], timeoutExitCode)
	}
	if !strings.Contains(res.Content, "partial") {
		t.Fatalf("partial output should be preserved: %q", res.Content)
	}
}

func TestBashPerCallTimeoutCappedByCeiling(t *testing.T) {
	tool := NewBash(ToolConfig{
		ShellTimeout:        100 * time.Millisecond,
		ShellTimeoutCeiling: 300 * time.Millisecond,
	})
	start := time.Now()
	res, _ := tool.Execute(testCtx(t), ports.ToolCall{
		ID: "c1",
		// Requested timeout above the ceiling must not extend past it.
		Arguments: map[string]any{"command": "sleep 10", "timeout": 60},
	})
	if time.Since(start) > 3*time.Second {
		t.Fatal("per-call timeout exceeded the ceiling")
	}
	if oerr.KindOf(res.Error) != oerr.KindTimeout {
		t.Fatalf("expected timeout, got %v", res.Error)
	}
}

func TestBashPerCallTimeoutCanRaiseDefault(t *testing.T) {
	tool := NewBash(ToolConfig{
		ShellTimeout:        100 * time.Millisecond,
		ShellTimeoutCeiling: 5 * time.Second,
	})
	res, err := tool.Execute(testCtx(t), ports.ToolCall{
		ID: "c1",
		// A request between the default and the ceiling takes effect.
		Arguments: map[string]any{"command": "sleep 0.3; echo survived", "timeout": 2},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("command should have been given the requested timeout, got %v", res.Error)
	}
	if !strings.Contains(res.Content, "survived") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestBashOutputTruncation(t *testing.T) {
	tool := NewBash(ToolConfig{ShellOutputLimit: 50})
	res, err := tool.Execute(testCtx(t), ports.ToolCall{
		ID:        "c1",
		Arguments: map[string]any{"command": "yes x | head -1000"},
	})
	if err != nil || res.Error != nil {
		t.Fatalf("Execute: %v / %v", err, res.Error)
	}
	if !strings.Contains(res.Content, truncationMarker) {
		t.Fatalf("expected truncation marker in %q", res.Content)
	}
	if res.Metadata["truncated"] != true {
		t.Fatal("metadata truncated flag not set")
	}
}

func TestBashMissingCommand(t *testing.T) {
	tool := NewBash(ToolConfig{})
	res, err := tool.Execute(testCtx(t), ports.ToolCall{ID: "c1", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if oerr.KindOf(res.Error) != oerr.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", res.Error)
	}
}
