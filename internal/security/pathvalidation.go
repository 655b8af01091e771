// Package security confines file paths taken from trace files and flags.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its allowed
// directory.
var ErrPathEscape = errors.New("path escapes allowed directory")

// ValidatePathWithinDirectory reports an error unless filePath, after
// cleaning and symlink resolution, lies inside dir. Paths that do not exist
// yet are resolved through their deepest existing ancestor, so a new file
// under a symlinked directory is judged by where the link points.
func ValidatePathWithinDirectory(filePath, dir string) error {
	canonicalPath, err := canonical(filePath)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscape, filePath, dir)
	}
	return nil
}

// canonical returns the absolute, symlink-free form of path.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidatePathWithinAllowedDirs accepts filePath when it lies inside any of
// dirs.
func ValidatePathWithinAllowedDirs(filePath string, dirs []string) error {
	if len(dirs) == 0 {
		return errors.New("no allowed directories specified")
	}
	for _, dir := range dirs {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be within one of %v", ErrPathEscape, filePath, dirs)
}

// ValidateExportPath accepts result files under the working directory or the
// system temp directory.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(filePath, []string{cwd, os.TempDir()})
}
