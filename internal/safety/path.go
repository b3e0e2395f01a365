package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanRelativePath normalizes p and rejects absolute paths and any
// ".." segment that would climb out of the directory it is joined to.
func CleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	switch {
	case clean == ".":
		return "", fmt.Errorf("path %q resolves to the directory itself", p)
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("absolute path %q not allowed here", p)
	case escapes(clean):
		return "", fmt.Errorf("path %q climbs out of its root", p)
	}
	return clean, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SafeJoinUnder joins rel below root and checks the result stays there.
func SafeJoinUnder(root, rel string) (string, error) {
	clean, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, clean))
}

// EnsureUnderRoot returns candidate as an absolute path, or an error when
// it lies outside root.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", candidate, err)
	}
	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("comparing %s with %s: %w", candidate, root, err)
	}
	if escapes(rel) {
		return "", fmt.Errorf("path %q is outside %s", candidate, root)
	}
	return candAbs, nil
}

// InTarget maps a path of the installed system, such as /etc/hostname,
// to its location below the target root.
func InTarget(target, systemPath string) (string, error) {
	rel := strings.TrimLeft(filepath.ToSlash(systemPath), "/")
	return SafeJoinUnder(target, rel)
}

// MustInTarget is InTarget for compile-time constant paths.
func MustInTarget(target, systemPath string) string {
	p, err := InTarget(target, systemPath)
	if err != nil {
		panic(err)
	}
	return p
}
