package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

// timeoutExitCode mirrors the shell convention for commands killed by timeout.
const timeoutExitCode = 124

type bash struct {
	cfg ToolConfig
}

func NewBash(cfg ToolConfig) ports.ToolExecutor {
	return &bash{cfg: cfg.withDefaults()}
}

func (t *bash) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	command, ok := stringArg(call.Arguments, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'command'")), nil
	}

	// The per-call timeout may go above the default, bounded by the ceiling.
	timeout := t.cfg.ShellTimeout
	if seconds, ok := intArg(call.Arguments, "timeout"); ok && seconds > 0 {
		requested := time.Duration(seconds) * time.Second
		if requested > t.cfg.ShellTimeoutCeiling {
			requested = t.cfg.ShellTimeoutCeiling
		}
		timeout = requested
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = WorkingDirFromContext(ctx)
	// New process group so a timeout kills the whole tree, not just bash.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	cancelled := ctx.Err() == context.Canceled

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if timedOut {
		exitCode = timeoutExitCode
	}

	output := combineOutput(stdoutBuf.String(), stderrBuf.String())
	output, truncated := truncateTail(output, t.cfg.ShellOutputLimit)

	metadata := map[string]any{
		"command":      command,
		"exit_code":    exitCode,
		"duration_ms":  elapsed.Milliseconds(),
		"stdout_bytes": stdoutBuf.Len(),
		"stderr_bytes": stderrBuf.Len(),
		"truncated":    truncated,
	}

	switch {
	case cancelled:
		return nil, ctx.Err()

	case timedOut:
		err := oerr.New(oerr.KindTimeout, "command timed out after %s", timeout)
		return &ports.ToolResult{
			CallID:   call.ID,
			Content:  fmt.Sprintf("%s\n\n%s", err.Error(), output),
			Error:    err,
			Metadata: metadata,
		}, nil

	case runErr != nil && exitCode == -1:
		// bash itself could not start
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, runErr, "failed to run command")), nil
	}

	// A non-zero exit code is information for the model, not a tool failure.
	if exitCode != 0 {
		output = fmt.Sprintf("%s\n[exit code: %d]", output, exitCode)
	}

	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  output,
		Metadata: metadata,
	}, nil
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout == "" && stderr == "":
		return "(no output)"
	case stderr == "":
		return stdout
	case stdout == "":
		return "[stderr]\n" + stderr
	default:
		return stdout + "\n[stderr]\n" + stderr
	}
}

func (t *bash) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "bash",
		Description: `Execute a shell command in the job working directory.

- Runs via 'bash -c' with the server environment
- stdout and stderr are captured; a non-zero exit code is reported inline
- Output is truncated at the configured byte limit
- The command is killed (whole process group) when the timeout elapses`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"command": {Type: "string", Description: "Shell command to execute"},
				"timeout": {Type: "integer", Description: "Optional timeout in seconds (capped by the server ceiling)"},
			},
			Required: []string{"command"},
		},
	}
}

func (t *bash) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "bash", Version: "1.0.0", Category: "execution",
		Tags: []string{"shell", "execute"}, Dangerous: true,
	}
}
