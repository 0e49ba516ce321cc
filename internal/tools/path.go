package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for paths that resolve outside the workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// PathGuard keeps proposal targets inside a root directory.
type PathGuard struct {
	Root string
}

// NewPathGuard constructs a guard rooted at root (defaults to the working directory).
func NewPathGuard(root string) (*PathGuard, error) {
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &PathGuard{Root: abs}, nil
}

// Resolve returns the absolute path for a workspace-relative path.
// Existing symlinks in the parent chain and a symlinked final component are followed before the
// containment check. A dangling final symlink is rejected.
func (g *PathGuard) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, p)
	}
	abs := filepath.Join(g.Root, clean)
	if !g.contains(abs) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, p)
	}

	parent := filepath.Dir(abs)
	for {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			if !g.contains(resolved) {
				return "", fmt.Errorf("%w: %q follows a symlink", ErrPathEscape, p)
			}
			break
		}
		if parent == g.Root || parent == filepath.Dir(parent) {
			break
		}
		parent = filepath.Dir(parent)
	}

	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", fmt.Errorf("%w: %q is a dangling symlink", ErrPathEscape, p)
		}
		if !g.contains(resolved) {
			return "", fmt.Errorf("%w: %q follows a symlink", ErrPathEscape, p)
		}
	}
	return abs, nil
}

func (g *PathGuard) contains(abs string) bool {
	return abs == g.Root || strings.HasPrefix(abs, g.Root+string(os.PathSeparator))
}
