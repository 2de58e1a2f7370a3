package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	oerr "oape/internal/errors"
)

type workingDirKey struct{}

// WithWorkingDir returns a context carrying the job's containment root. Every
// path a tool touches must resolve inside this directory.
func WithWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workingDirKey{}, dir)
}

// WorkingDirFromContext returns the containment root, or "." when unset.
func WorkingDirFromContext(ctx context.Context) string {
	if dir, ok := ctx.Value(workingDirKey{}).(string); ok && dir != "" {
		return dir
	}
	return "."
}

// resolveLocalPath resolves raw against the job working directory and rejects
// anything that escapes it, including escapes through symlinks.
func resolveLocalPath(ctx context.Context, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", oerr.New(oerr.KindInvalidInput, "path cannot be empty")
	}

	base := WorkingDirFromContext(ctx)
	resolved := trimmed
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	if !pathWithinBase(base, resolved) {
		return "", oerr.New(oerr.KindPathViolation, "path %q escapes the working directory", raw)
	}

	// A symlink inside the tree may still point outside it. Resolve the
	// deepest existing ancestor and re-check.
	real, err := resolveExisting(resolved)
	if err == nil && !pathWithinBase(realBase(base), real) {
		return "", oerr.New(oerr.KindPathViolation, "path %q resolves outside the working directory", raw)
	}

	return resolved, nil
}

func realBase(base string) string {
	if real, err := filepath.EvalSymlinks(base); err == nil {
		return real
	}
	return base
}

// resolveExisting walks up from path to the deepest component that exists,
// resolves its symlinks, and rejoins the remainder.
func resolveExisting(path string) (string, error) {
	suffix := ""
	current := filepath.Clean(path)
	for {
		if _, err := os.Lstat(current); err == nil {
			real, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", err
			}
			return filepath.Join(real, suffix), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}

func pathWithinBase(base, target string) bool {
	baseClean, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return false
	}
	targetClean, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return false
	}
	return true
}
