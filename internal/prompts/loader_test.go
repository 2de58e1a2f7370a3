package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	loader, err := NewLoader("")
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	names := loader.CommandNames()
	if len(names) == 0 {
		t.Fatal("default catalog has no commands")
	}
	for _, want := range []string{"init", "api-implement", "review"} {
		if !loader.Validate(want) {
			t.Errorf("default catalog missing %q (have %v)", want, names)
		}
	}
	if loader.Validate("no-such-command") {
		t.Error("Validate accepted an unknown command")
	}
}

func TestSystemPromptComposition(t *testing.T) {
	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}

	prompt, err := loader.SystemPrompt("api-implement", "")
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}

	for _, want := range []string{
		"# Agent Guidelines",
		"# Skill: skills/effective-go/SKILL.md",
		"# Command Instructions: api-implement",
		"# Execution Context",
		"`api-implement` command",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	// instructions must come after the skills
	if strings.Index(prompt, "# Skill:") > strings.Index(prompt, "# Command Instructions:") {
		t.Error("skills should precede command instructions")
	}
}

func TestSystemPromptUnknownCommand(t *testing.T) {
	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.SystemPrompt("bogus", ""); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestSystemPromptIncludesProjectMemory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Always run make lint."), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}
	prompt, err := loader.SystemPrompt("init", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "## Project Context") || !strings.Contains(prompt, "Always run make lint.") {
		t.Error("project memory from working dir not included")
	}
}

func TestCustomCatalogDirectory(t *testing.T) {
	dir := t.TempDir()
	catalog := `commands:
  - name: echo-test
    description: Echo the prompt back.
    instructions: commands/echo-test.md
`
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "commands"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "commands", "echo-test.md"), []byte("Repeat the user's input verbatim."), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader(custom): %v", err)
	}
	if !loader.Validate("echo-test") {
		t.Fatal("custom command not registered")
	}
	prompt, err := loader.SystemPrompt("echo-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Repeat the user's input verbatim.") {
		t.Error("custom instructions missing from prompt")
	}
}

func TestUserPromptFormat(t *testing.T) {
	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}
	got := loader.UserPrompt("review", "the auth package")
	if got != "Execute: /oape:review the auth package" {
		t.Fatalf("UserPrompt = %q", got)
	}
}

func TestProjectMemoryMissingDir(t *testing.T) {
	if ProjectMemory("") != "" {
		t.Error("empty working dir should yield no memory")
	}
	if ProjectMemory(t.TempDir()) != "" {
		t.Error("dir without memory files should yield no memory")
	}
}

func TestRepositoryStateOutsideGit(t *testing.T) {
	if got := RepositoryState(t.TempDir()); got != "" {
		t.Errorf("non-repo dir should yield empty state, got %q", got)
	}
}
