package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	oerr "oape/internal/errors"
	"oape/internal/logging"
)

//go:embed defaults
var defaultsFS embed.FS

// Loader composes system prompts for catalog commands. Each prompt stacks the
// base context, shared skills, command-specific skills and the command's own
// instruction file, in that order.
type Loader struct {
	root    fs.FS
	catalog *Catalog
	byName  map[string]Command
	logger  logging.Logger
}

// NewLoader builds a loader from a catalog directory. An empty dir selects
// the embedded default catalog.
func NewLoader(dir string) (*Loader, error) {
	if dir == "" {
		sub, err := fs.Sub(defaultsFS, "defaults")
		if err != nil {
			return nil, oerr.Wrap(oerr.KindInternal, err, "embedded prompt defaults missing")
		}
		return newLoaderFromFS(sub)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, oerr.New(oerr.KindInvalidInput, "prompt catalog directory does not exist: %s", dir)
	}
	return newLoaderFromFS(os.DirFS(dir))
}

func newLoaderFromFS(fsys fs.FS) (*Loader, error) {
	catalog, err := parseCatalog(fsys)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Command, len(catalog.Commands))
	for _, cmd := range catalog.Commands {
		byName[cmd.Name] = cmd
	}

	return &Loader{
		root:    fsys,
		catalog: catalog,
		byName:  byName,
		logger:  logging.NewComponentLogger("prompts"),
	}, nil
}

// Commands returns the catalog entries, sorted by name.
func (l *Loader) Commands() []Command {
	out := make([]Command, len(l.catalog.Commands))
	copy(out, l.catalog.Commands)
	return out
}

// CommandNames returns just the sorted command names.
func (l *Loader) CommandNames() []string {
	names := make([]string, 0, len(l.catalog.Commands))
	for _, cmd := range l.catalog.Commands {
		names = append(names, cmd.Name)
	}
	return names
}

// Validate reports whether the command exists in the catalog.
func (l *Loader) Validate(command string) bool {
	_, ok := l.byName[command]
	return ok
}

// SystemPrompt composes the full system prompt for a command. workingDir, when
// set, contributes the project memory file and repository state of the target
// checkout.
func (l *Loader) SystemPrompt(command, workingDir string) (string, error) {
	cmd, ok := l.byName[command]
	if !ok {
		return "", oerr.New(oerr.KindInvalidInput, "unknown command: %s (available: %s)",
			command, strings.Join(l.CommandNames(), ", "))
	}

	var parts []string

	if base := l.loadBaseContext(); base != "" {
		parts = append(parts, base)
	}
	if project := ProjectMemory(workingDir); project != "" {
		parts = append(parts, "\n\n## Project Context\n\n"+project)
	}
	if repo := RepositoryState(workingDir); repo != "" {
		parts = append(parts, "\n\n## Repository State\n\n"+repo)
	}

	for _, skill := range l.catalog.CommonSkills {
		if content := l.loadSkill(skill); content != "" {
			parts = append(parts, content)
		}
	}
	for _, skill := range cmd.Skills {
		if content := l.loadSkill(skill); content != "" {
			parts = append(parts, content)
		}
	}

	if instructions := l.loadInstructions(cmd); instructions != "" {
		parts = append(parts, instructions)
	}

	full := strings.Join(parts, "\n") + executionFooter(command)
	l.logger.Info("composed system prompt for %q: %d characters", command, len(full))
	return full, nil
}

// UserPrompt renders the initial user turn for a command invocation.
func (l *Loader) UserPrompt(command, prompt string) string {
	return fmt.Sprintf("Execute: /oape:%s %s", command, prompt)
}

// loadBaseContext returns the first readable base context file.
func (l *Loader) loadBaseContext() string {
	for _, name := range l.catalog.BaseContext {
		if content := l.readFileSafe(name); content != "" {
			l.logger.Info("loaded base context from %s", name)
			return content
		}
	}
	l.logger.Warn("no base context file found (tried %s)", strings.Join(l.catalog.BaseContext, ", "))
	return ""
}

func (l *Loader) loadSkill(path string) string {
	content := l.readFileSafe(path)
	if content == "" {
		return ""
	}
	l.logger.Debug("loaded skill: %s", path)
	return fmt.Sprintf("\n\n---\n\n# Skill: %s\n\n%s", path, content)
}

func (l *Loader) loadInstructions(cmd Command) string {
	content := l.readFileSafe(cmd.Instructions)
	if content == "" {
		l.logger.Warn("command %q has no readable instructions at %s", cmd.Name, cmd.Instructions)
		return ""
	}
	return fmt.Sprintf("\n\n---\n\n# Command Instructions: %s\n\n%s", cmd.Name, content)
}

// readFileSafe reads a catalog-relative file, returning "" when missing so a
// partially populated catalog still produces a usable prompt.
func (l *Loader) readFileSafe(path string) string {
	if path == "" {
		return ""
	}
	data, err := fs.ReadFile(l.root, path)
	if err != nil {
		l.logger.Warn("prompt file not readable: %s: %v", path, err)
		return ""
	}
	return string(data)
}

func executionFooter(command string) string {
	return fmt.Sprintf(`

---

# Execution Context

You are now executing the `+"`%s`"+` command. Follow the instructions above precisely.

- Execute each phase in order
- Use the provided tools (bash, file_read, file_write, etc.) as needed
- If any precheck fails, STOP and report the failure
- Provide clear output at each step
- End with a summary of what was accomplished
`, command)
}
