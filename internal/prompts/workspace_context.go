package prompts

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// memoryFiles are checked in order inside the working directory. The first
// one that exists and is non-empty becomes the project memory block.
var memoryFiles = []string{"AGENTS.md", "CLAUDE.md", "OAPE.md"}

// ProjectMemory reads the project memory file from the working directory.
// Returns "" when the directory has none.
func ProjectMemory(workingDir string) string {
	if workingDir == "" {
		return ""
	}
	for _, name := range memoryFiles {
		content, err := os.ReadFile(filepath.Join(workingDir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(content)); text != "" {
			return text
		}
	}
	return ""
}

// RepositoryState summarizes the git state of the working directory: current
// branch, porcelain status and recent commits. Returns "" outside a git
// checkout. Best effort, a missing git binary is not an error.
func RepositoryState(workingDir string) string {
	if workingDir == "" {
		return ""
	}

	var b strings.Builder

	if branch := gitOutput(workingDir, "branch", "--show-current"); branch != "" {
		fmt.Fprintf(&b, "Current branch: %s\n", branch)
	}
	if status := gitOutput(workingDir, "status", "--porcelain"); status != "" {
		fmt.Fprintf(&b, "Status:\n%s\n", status)
	} else if b.Len() > 0 {
		b.WriteString("Status: clean working directory\n")
	}
	if commits := gitOutput(workingDir, "log", "--oneline", "-5"); commits != "" {
		fmt.Fprintf(&b, "Recent commits:\n%s\n", commits)
	}

	return strings.TrimSpace(b.String())
}

func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
