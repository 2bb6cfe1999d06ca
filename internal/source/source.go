// Package source expands input path patterns into the ordered list of files
// to ingest.
package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NoMatchError is returned when none of the patterns resolved to a file.
type NoMatchError struct {
	Patterns []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no input files matched: %s", strings.Join(e.Patterns, ", "))
}

// Result holds the resolved files and the patterns that matched nothing.
type Result struct {
	Paths     []string
	Unmatched []string
}

// Enumerate resolves each pattern (plain path or doublestar glob, "**"
// included) to regular files. Paths are made absolute, deduplicated and
// sorted so multi-file runs are reproducible. A pattern with no match is
// reported in Unmatched; only when every pattern is empty does Enumerate fail
// with *NoMatchError.
func Enumerate(patterns []string) (*Result, error) {
	if len(patterns) == 0 {
		return nil, &NoMatchError{}
	}

	seen := make(map[string]struct{})
	res := &Result{}

	for _, pattern := range patterns {
		matches, err := expand(pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			res.Unmatched = append(res.Unmatched, pattern)
			continue
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s: %w", m, err)
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			res.Paths = append(res.Paths, abs)
		}
	}

	if len(res.Paths) == 0 {
		return nil, &NoMatchError{Patterns: patterns}
	}

	sort.Strings(res.Paths)
	return res, nil
}

func expand(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
		}
		return nil, fmt.Errorf("failed to expand %q: %w", pattern, err)
	}
	return matches, nil
}

// Targets resolves the files to follow. Globs behave as in Enumerate, but a
// plain path that does not exist yet is kept: the tail engine picks it up
// once it is created. It fails with *NoMatchError only when nothing resolves
// and no plain path was given.
func Targets(patterns []string) ([]string, error) {
	res, err := Enumerate(patterns)
	var noMatch *NoMatchError
	if err != nil && !errors.As(err, &noMatch) {
		return nil, err
	}

	var paths []string
	unmatched := patterns
	if res != nil {
		paths = res.Paths
		unmatched = res.Unmatched
	}

	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		seen[p] = struct{}{}
	}
	for _, pattern := range unmatched {
		if HasMeta(pattern) {
			continue
		}
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", pattern, err)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		paths = append(paths, abs)
	}

	if len(paths) == 0 {
		return nil, &NoMatchError{Patterns: patterns}
	}

	sort.Strings(paths)
	return paths, nil
}

// HasMeta reports whether pattern contains glob metacharacters
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{`)
}
