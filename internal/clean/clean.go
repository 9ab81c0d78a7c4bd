// Package clean removes package artifacts left behind by a previous build
// plan before the package is rebuilt.
package clean

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Cleanable is implemented by anything that purges stale build output for a
// package.
type Cleanable interface {
	CleanPrevious(name string) (bool, error)
}

// Cleaner consumes pending-removal lists from HashDir and deletes the named
// artifacts from PkgDir.
type Cleaner struct {
	PkgDir  string
	HashDir string
}

var _ Cleanable = (*Cleaner)(nil)

func New(pkgDir, hashDir string) *Cleaner {
	return &Cleaner{PkgDir: pkgDir, HashDir: hashDir}
}

// MarkerPath is the pending-removal list of a package.
func (c *Cleaner) MarkerPath(name string) string {
	return filepath.Join(c.HashDir, name+".pkglist")
}

// Schedule records artifacts to be removed before the next build of name.
// The list replaces any list already pending.
func (c *Cleaner) Schedule(name string, artifacts []string) error {
	if err := os.MkdirAll(c.HashDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", c.HashDir, err)
	}

	path := c.MarkerPath(name)
	tmp := path + ".tmp"
	data := strings.Join(artifacts, "\n")
	if len(artifacts) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write removal list: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename removal list: %w", err)
	}
	return nil
}

// Pending returns the artifacts currently scheduled for name.
func (c *Cleaner) Pending(name string) ([]string, error) {
	data, err := os.ReadFile(c.MarkerPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

// CleanPrevious deletes the artifacts listed for name. The list is removed
// before any artifact so an interrupted run never replays it. It reports
// whether anything was scheduled.
func (c *Cleaner) CleanPrevious(name string) (bool, error) {
	path := c.MarkerPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read removal list for %s: %w", name, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	artifacts := strings.Fields(string(data))
	if len(artifacts) == 0 {
		return false, nil
	}

	var errs []error
	for _, artifact := range artifacts {
		slog.Debug(fmt.Sprintf("Removing previously built packages for %s: %s", name, artifact),
			"package", name)
		err := os.Remove(filepath.Join(c.PkgDir, artifact))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}
