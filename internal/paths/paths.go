package paths

import (
	"path/filepath"
	"strings"
)

// RelPathCheck returns the slash separated path of path relative to base, or
// false if path is not within base.
func RelPathCheck(base, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", false
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// Resolve joins a slash separated archive entry name onto root and rejects
// names that would land outside of it.
func Resolve(root, name string) (string, bool) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if _, ok := RelPathCheck(root, target); !ok {
		return "", false
	}
	return target, true
}
