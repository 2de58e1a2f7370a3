package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

// grepSkipDirs are never descended into.
var grepSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

type grep struct {
	cfg ToolConfig
}

func NewGrep(cfg ToolConfig) ports.ToolExecutor {
	return &grep{cfg: cfg.withDefaults()}
}

func (t *grep) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	pattern, ok := stringArg(call.Arguments, "pattern")
	if !ok || pattern == "" {
		return errorResult(call.ID, oerr.New(oerr.KindInvalidInput, "missing 'pattern'")), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, err, "invalid regular expression %q", pattern)), nil
	}

	scope := WorkingDirFromContext(ctx)
	if dir, ok := stringArg(call.Arguments, "path"); ok && dir != "" {
		resolved, err := resolveLocalPath(ctx, dir)
		if err != nil {
			return errorResult(call.ID, err), nil
		}
		scope = resolved
	}

	var include func(string) bool
	if pat, ok := stringArg(call.Arguments, "include"); ok && pat != "" {
		include = func(rel string) bool { return globMatch(pat, rel) || globMatch("**/"+pat, rel) }
	}

	var lines []string
	overflow := false
	filesMatched := 0

	walkErr := filepath.WalkDir(scope, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if grepSkipDirs[name] || (strings.HasPrefix(name, ".") && name != "." && p != scope) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(scope, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include != nil && !include(rel) {
			return nil
		}

		matched, err := t.scanFile(p, rel, re, &lines)
		if err != nil {
			return nil // unreadable or binary, skip
		}
		if matched {
			filesMatched++
		}
		if len(lines) >= t.cfg.GrepLimit {
			overflow = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errorResult(call.ID, oerr.Wrap(oerr.KindInvalidInput, walkErr, "grep walk failed")), nil
	}

	var b strings.Builder
	if len(lines) == 0 {
		b.WriteString(fmt.Sprintf("No matches for %q", pattern))
	} else {
		b.WriteString(strings.Join(lines, "\n"))
		if overflow {
			b.WriteString(fmt.Sprintf("\n... (matches capped at %d)", t.cfg.GrepLimit))
		}
	}

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"pattern":       pattern,
			"matches":       len(lines),
			"files_matched": filesMatched,
			"capped":        overflow,
		},
	}, nil
}

// scanFile appends path:line:text entries for every matching line. Binary
// files (NUL in the first block) are skipped.
func (t *grep) scanFile(fullPath, relPath string, re *regexp.Regexp, out *[]string) (bool, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if strings.ContainsRune(string(head[:n]), '\x00') {
		return false, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return false, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	matched := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			matched = true
			*out = append(*out, fmt.Sprintf("%s:%d:%s", relPath, lineNo, line))
			if len(*out) >= t.cfg.GrepLimit {
				return matched, nil
			}
		}
	}
	return matched, scanner.Err()
}

func (t *grep) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "grep",
		Description: `Search file contents with a regular expression.

- Output lines are path:line:text, paths relative to the search scope
- Hidden directories, .git, vendor and node_modules are skipped
- Optional include glob filters which files are searched
- Match count is capped; refine the pattern when capped`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"pattern": {Type: "string", Description: "Regular expression to search for"},
				"path":    {Type: "string", Description: "Directory to search in (optional)"},
				"include": {Type: "string", Description: "Glob filter for file names, e.g. *.go (optional)"},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *grep) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name: "grep", Version: "1.0.0", Category: "search",
		Tags: []string{"search", "regex", "content"},
	}
}
