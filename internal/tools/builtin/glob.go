package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

type glob struct {
	cfg ToolConfig
}

func NewGlob(cfg ToolConfig) ports.ToolExecutor {
	return &glob{cfg: cfg.withDefaults()}
}

func (t *glob) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	pattern, ok := stringArg(call.Arguments, "pattern")
	if !ok || pattern == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'pattern'")), nil
	}
	if _, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "invalid pattern %q", pattern)), nil
	}

	root := WorkingDirFromContext(ctx)
	scope := root
	if dir, ok := stringArg(call.Arguments, "path"); ok && dir != "" {
		resolved, err := resolveLocalPath(ctx, dir)
		if err != nil {
			return errorResult(call.ID, err), nil
		}
		scope = resolved
	}

	var matches []string
	overflow := false

	err := filepath.WalkDir(scope, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(scope, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !globMatch(pattern, rel) {
			return nil
		}

		if len(matches) >= t.cfg.GlobLimit {
			overflow = true
			return filepath.SkipAll
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "glob walk failed")), nil
	}

	sort.Strings(matches)

	var b strings.Builder
	if len(matches) == 0 {
		b.WriteString(fmt.Sprintf("No files match %q", pattern))
	} else {
		b.WriteString(strings.Join(matches, "\n"))
		if overflow {
			b.WriteString(fmt.Sprintf("\n... (results capped at %d)", t.cfg.GlobLimit))
		}
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"pattern": pattern,
			"count":   len(matches),
			"capped":  overflow,
		},
	}, nil
}

// globMatch matches slash-separated relative paths against a pattern where
// "**" spans any number of path segments.
func globMatch(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		if len(name) > 0 && matchSegments(pattern, name[1:]) {
			return true
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], name[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

func (t *glob) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "glob",
		Description: `Find files by glob pattern under the job working directory.

- "**" matches any number of path segments (e.g. "**/*.go")
- Returns sorted paths relative to the search scope
- Result count is capped; narrow the pattern when capped`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"pattern": {Type: "string", Description: "Glob pattern, ** spans directories"},
				"path":    {Type: "string", Description: "Directory to search in (optional, defaults to working dir)"},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *glob) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "glob", Version: "1.0.0", Category: "search",
		Tags: []string{"file", "search", "pattern"},
	}
}
