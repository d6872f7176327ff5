package tools

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultExcludes are skipped by list_files unless the caller passes an
// explicit exclude_patterns argument (an empty list disables exclusion).
var defaultExcludes = []string{
	"node_modules", ".git", "__pycache__", ".pytest_cache",
	".venv", "venv", "env", "dist", "build", ".next", ".nuxt", ".output",
	"coverage", ".DS_Store", "*.pyc", "*.pyo", "*.pyd", "*.egg-info",
	".tox", ".mypy_cache", ".ruff_cache", "target", "bin", "obj",
}

// ListFilesTool lists directory entries filtered by glob pattern, exclusion
// patterns and the directory's .gitignore.
type ListFilesTool struct {
	ws *Workspace
}

func NewListFilesTool(ws *Workspace) *ListFilesTool { return &ListFilesTool{ws: ws} }

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "List files in a directory, optionally recursive, filtered by a glob pattern"
}

func (t *ListFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"directory": map[string]any{
				"type":        "string",
				"description": "Directory to list (default: working directory)",
			},
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern matched against file names (default *)",
			},
			"recursive": map[string]any{
				"type":        "boolean",
				"description": "Descend into subdirectories (default false)",
			},
			"include_dirs": map[string]any{
				"type":        "boolean",
				"description": "Include directories in the listing (default false)",
			},
			"exclude_patterns": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Names or globs to skip; empty list disables the default exclusions",
			},
			"respect_gitignore": map[string]any{
				"type":        "boolean",
				"description": "Additionally honor the directory's .gitignore (default true)",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	root, err := t.ws.Resolve(stringArg(args, "directory"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	info, err := os.Stat(root)
	if err != nil {
		return Errorf("failed to list %s: %v", root, err)
	}
	if !info.IsDir() {
		return Errorf("%s is not a directory", root)
	}

	pattern := stringArg(args, "pattern")
	if pattern == "" {
		pattern = "*"
	}
	recursive := boolArg(args, "recursive", false)
	includeDirs := boolArg(args, "include_dirs", false)

	excludes := defaultExcludes
	if explicit, ok := stringListArg(args, "exclude_patterns"); ok {
		excludes = explicit
	}

	var ignore *gitignore
	if boolArg(args, "respect_gitignore", true) {
		ignore = loadGitignore(filepath.Join(root, ".gitignore"))
	}

	var results []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		excluded := matchesAny(excludes, d.Name()) ||
			(ignore != nil && ignore.Match(rel, d.IsDir()))

		if d.IsDir() {
			if excluded {
				return filepath.SkipDir
			}
			if includeDirs && matchName(pattern, d.Name()) {
				results = append(results, rel)
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded {
			return nil
		}
		if matchName(pattern, d.Name()) {
			results = append(results, rel)
		}
		return nil
	})
	if walkErr != nil {
		return Errorf("failed to list %s: %v", root, walkErr)
	}

	sort.Strings(results)
	return NewResult(results)
}

// SearchInFilesTool does a plain substring search across files.
type SearchInFilesTool struct {
	ws *Workspace
}

func NewSearchInFilesTool(ws *Workspace) *SearchInFilesTool { return &SearchInFilesTool{ws: ws} }

func (t *SearchInFilesTool) Name() string { return "search_in_files" }
func (t *SearchInFilesTool) Description() string {
	return "Search for a substring in files under a directory"
}

func (t *SearchInFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Substring to search for (not a regex)",
			},
			"directory": map[string]any{
				"type":        "string",
				"description": "Directory to search (default: working directory)",
			},
			"file_pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern for file names to search (default *)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchInFilesTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	needle := stringArg(args, "pattern")
	if needle == "" {
		return ErrorResult("pattern is required")
	}
	root, err := t.ws.Resolve(stringArg(args, "directory"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	filePattern := stringArg(args, "file_pattern")
	if filePattern == "" {
		filePattern = "*"
	}

	matches := map[string][]map[string]any{}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !matchName(filePattern, d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil // unreadable files are silently skipped
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.Contains(line, needle) {
				matches[rel] = append(matches[rel], map[string]any{
					"line_number": lineNo,
					"content":     strings.TrimRight(line, "\r\n"),
				})
			}
		}
		return nil
	})

	return NewResult(matches)
}

func matchName(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name || matchName(p, name) {
			return true
		}
	}
	return false
}

// gitignore is a minimal .gitignore matcher covering the common cases:
// comments, blank lines, directory-only rules (trailing /), root-anchored
// rules (leading /), negation (!) and shell globs per path segment.
type gitignore struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

func loadGitignore(path string) *gitignore {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	g := &gitignore{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.anchored = true
			line = strings.TrimPrefix(line, "/")
		}
		rule.pattern = line
		g.rules = append(g.rules, rule)
	}
	if len(g.rules) == 0 {
		return nil
	}
	return g
}

// Match reports whether a root-relative path is ignored. Later rules win,
// matching git's semantics.
func (g *gitignore) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	ignored := false
	for _, rule := range g.rules {
		if rule.matches(rel, isDir) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string, isDir bool) bool {
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}

	if r.anchored || strings.Contains(r.pattern, "/") {
		if ok, _ := filepath.Match(r.pattern, rel); ok {
			return !r.dirOnly || isDir
		}
		// Anchored directory rules ignore everything beneath them.
		if strings.HasPrefix(rel, r.pattern+"/") {
			return true
		}
		return false
	}

	// Unanchored: match the base name or any parent segment.
	if ok, _ := filepath.Match(r.pattern, base); ok {
		return !r.dirOnly || isDir
	}
	for _, seg := range strings.Split(rel, "/") {
		if ok, _ := filepath.Match(r.pattern, seg); ok && seg != base {
			return true
		}
	}
	return false
}
