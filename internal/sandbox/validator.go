// Package sandbox validates filesystem paths against an allowlist of root
// directories. Every tool that touches the filesystem routes its paths through
// a Validator before doing any I/O.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotAllowed marks a path rejected by the allowlist or symlink checks.
var ErrNotAllowed = errors.New("path not allowed")

// Validator checks that paths stay within a set of allowed root directories.
// Roots are canonicalized at construction; validation resolves the candidate
// path (including symlinks) and additionally walks the original path component
// by component so a symlink inside an allowed root cannot point outside it.
type Validator struct {
	roots []string // canonical absolute roots
}

// NewValidator canonicalizes the given roots. Roots that do not exist yet are
// kept in cleaned absolute form.
func NewValidator(roots []string) (*Validator, error) {
	if len(roots) == 0 {
		return nil, errors.New("sandbox: at least one allowed root is required")
	}
	v := &Validator{roots: make([]string, 0, len(roots))}
	for _, root := range roots {
		abs, err := filepath.Abs(expandHome(root))
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve root %s: %w", root, err)
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		v.roots = append(v.roots, filepath.Clean(abs))
	}
	return v, nil
}

// Roots returns the canonical allowed roots.
func (v *Validator) Roots() []string {
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}

// Validate resolves path to its canonical absolute form and verifies that it
// is contained in one of the allowed roots. Symlinks in the original path are
// walked from the matched root downward and each target is re-verified, so a
// link like root/evil → /etc is rejected even though the final resolved path
// of files beneath it would be checked anyway. Symlinks above the allowed
// roots (e.g. /var → /private/var) are never examined.
func (v *Validator) Validate(path string) (string, error) {
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve path %s: %v", ErrNotAllowed, path, err)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveThroughExistingAncestors(abs)
	if err != nil {
		slog.Warn("security.path_resolve_failed", "path", path, "error", err)
		return "", fmt.Errorf("%w: failed to resolve path %s: %v", ErrNotAllowed, path, err)
	}

	root := v.matchRoot(resolved)
	if root == "" {
		return "", fmt.Errorf("%w: path %s is not within allowed directories %v",
			ErrNotAllowed, resolved, v.roots)
	}

	if err := v.checkSymlinkChain(abs, resolved, root); err != nil {
		return "", err
	}
	return resolved, nil
}

// matchRoot returns the first allowed root containing path, or "".
// Containment is component-wise: /tmp does not contain /tmp2.
func (v *Validator) matchRoot(path string) string {
	for _, root := range v.roots {
		if isPathInside(path, root) {
			return root
		}
	}
	return ""
}

// checkSymlinkChain walks the original (lexically cleaned) path from the
// matched root, resolving each symlink component and verifying its target is
// still inside an allowed root. The walk starts at the root, never at /.
func (v *Validator) checkSymlinkChain(original, resolved, root string) error {
	// Prefer walking the original spelling; when .. segments moved it outside
	// the root lexically, fall back to the resolved path.
	walk := original
	if !isPathInside(walk, root) {
		walk = resolved
	}
	rel, err := filepath.Rel(root, walk)
	if err != nil || rel == "." {
		return nil
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			break // remainder does not exist yet, nothing left to check
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(current)
		if err != nil {
			target, err = readLinkTarget(current)
			if err != nil {
				slog.Warn("security.symlink_resolve_failed", "path", current, "error", err)
				return fmt.Errorf("%w: failed to resolve symlink %s: %v", ErrNotAllowed, current, err)
			}
		}
		if v.matchRoot(target) == "" {
			slog.Warn("security.symlink_escape", "path", current, "target", target)
			return fmt.Errorf("%w: path %s contains symlink %s pointing to %s, which is not within allowed directories",
				ErrNotAllowed, original, current, target)
		}
	}
	return nil
}

// readLinkTarget resolves a (possibly dangling) symlink target to a canonical
// absolute path via its deepest existing ancestor.
func readLinkTarget(link string) (string, error) {
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	return resolveThroughExistingAncestors(filepath.Clean(target))
}

// resolveThroughExistingAncestors canonicalizes a path that may not fully
// exist: the deepest existing ancestor is resolved with EvalSymlinks and the
// non-existent tail is appended back.
func resolveThroughExistingAncestors(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}

	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if real, err := filepath.EvalSymlinks(current); err == nil {
			result := real
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(path), nil
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
