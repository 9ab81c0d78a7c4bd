// Package bootstrap caches bootstrapped chroot trees as squashfs images and
// decides whether a cached image may still be reused.
//
// A cache generation is three files in the cache directory:
//
//	<name>           squashfs image of the chroot
//	<name>.packages  packages installed when the image was taken
//	<name>.hash      upstream hash when the image was taken
//
// A generation is present only if all three exist.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"bstate/internal/mirror"
	"bstate/internal/reference"
	"bstate/internal/run"
)

const DefaultHome = "/var/empty"

var (
	ErrPackaging = errors.New("failed to package chroot")
	ErrRestore   = errors.New("failed to restore cache")
)

// Cacheable is implemented by anything whose bootstrapped state can be
// kept between builds.
type Cacheable interface {
	Exists() bool
	IsIntact(ctx context.Context) (bool, error)
	Save(ctx context.Context, installed []string) error
	Restore(ctx context.Context, dir string) error
	Remove() error
}

// Cache is the cache generation of one bootstrap target.
type Cache struct {
	Target     Target
	Dir        string
	ScratchDir string
	Runner     run.Runner
	Oracle     mirror.Oracle
	Comparator reference.Comparator
}

var _ Cacheable = (*Cache)(nil)

// New returns the cache of target stored in dir. Restores for verification go
// through runner and the marker files are written to scratchDir.
func New(target Target, dir, scratchDir string, runner run.Runner, oracle mirror.Oracle, comparator reference.Comparator) *Cache {
	return &Cache{
		Target:     target,
		Dir:        dir,
		ScratchDir: scratchDir,
		Runner:     runner,
		Oracle:     oracle,
		Comparator: comparator,
	}
}

// ImagePath is the squashfs image; the package list and hash sit next to it.
func (c *Cache) ImagePath() string {
	return filepath.Join(c.Dir, c.Target.Kind.CacheFilename())
}

func (c *Cache) PackagesPath() string {
	return c.ImagePath() + ".packages"
}

func (c *Cache) HashPath() string {
	return c.ImagePath() + ".hash"
}

func (c *Cache) MarkerPath() string {
	return filepath.Join(c.ScratchDir, c.Target.Kind.MarkerName())
}

func (c *Cache) paths() []string {
	return []string{c.ImagePath(), c.PackagesPath(), c.HashPath()}
}

// Exists reports whether all three generation files are present.
func (c *Cache) Exists() bool {
	for _, p := range c.paths() {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Remove deletes whichever generation files exist.
func (c *Cache) Remove() error {
	var errs []error
	for _, p := range c.paths() {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to remove %s cache: %w", c.Target.Kind, errors.Join(errs...))
	}
	return nil
}

// MirrorHash returns the stored upstream hash, or ok=false when no
// generation is present.
func (c *Cache) MirrorHash() (hash string, ok bool, err error) {
	if !c.Exists() {
		return "", false, nil
	}
	data, err := os.ReadFile(c.HashPath())
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache hash: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (c *Cache) InstalledPackages() ([]string, error) {
	data, err := os.ReadFile(c.PackagesPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read cached package list: %w", err)
	}
	var pkgs []string
	if err := yaml.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("failed to parse cached package list: %w", err)
	}
	return pkgs, nil
}

// InstalledPackagesChanged reports whether the cached package list differs
// from the packages the target currently asks for.
func (c *Cache) InstalledPackagesChanged() (bool, error) {
	cached, err := c.InstalledPackages()
	if err != nil {
		return false, err
	}
	return !slices.Equal(cached, c.Target.Packages), nil
}

func (c *Cache) Save(ctx context.Context, installed []string) error {
	slog.Debug("Caching chroot for future runs", "kind", c.Target.Kind, "chroot", c.Target.ChrootDir)

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := c.Remove(); err != nil {
		return err
	}

	if _, err := c.Runner.Run(ctx, []string{"mksquashfs", c.Target.ChrootDir, c.ImagePath()}, run.Options{}); err != nil {
		return fmt.Errorf("%w %s: %w", ErrPackaging, c.Target.ChrootDir, err)
	}

	data, err := yaml.Marshal(installed)
	if err != nil {
		return fmt.Errorf("failed to encode package list: %w", err)
	}
	if err := writeFile(c.PackagesPath(), data); err != nil {
		return fmt.Errorf("failed to write package list: %w", err)
	}

	hash, err := c.Oracle.UpstreamHash(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute upstream hash: %w", err)
	}
	if err := writeFile(c.HashPath(), []byte(hash)); err != nil {
		return fmt.Errorf("failed to write cache hash: %w", err)
	}

	slog.Info("Chroot cached", "kind", c.Target.Kind, "image", c.ImagePath(), "packages", len(installed))
	return nil
}

func (c *Cache) Restore(ctx context.Context, dir string) error {
	argv := []string{"unsquashfs", "-f", "-d", dir, c.ImagePath()}
	if _, err := c.Runner.Run(ctx, argv, run.Options{}); err != nil {
		return fmt.Errorf("%w %s into %s: %w", ErrRestore, c.ImagePath(), dir, err)
	}
	return nil
}

// IsIntact reports whether the generation can be reused. Checks run from
// cheapest to most expensive: presence, upstream hash, then a restore into
// the chroot directory compared against the reference files. The restored
// tree is always deleted again. A generation that is not intact is removed
// before IsIntact returns.
func (c *Cache) IsIntact(ctx context.Context) (bool, error) {
	intact, err := c.evaluate(ctx)
	if err != nil {
		return false, err
	}

	if !intact {
		if err := c.Remove(); err != nil {
			return false, err
		}
	}

	c.writeMarker(intact)
	return intact, nil
}

func (c *Cache) evaluate(ctx context.Context) (bool, error) {
	log := slog.With("kind", c.Target.Kind)

	stored, ok, err := c.MirrorHash()
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug("Cache does not exist")
		return false, nil
	}

	current, err := c.Oracle.UpstreamHash(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to compute upstream hash: %w", err)
	}
	if current != stored {
		log.Debug("Upstream repo changed, removing squashfs cache to re-create", "stored", stored, "current", current)
		return false, nil
	}

	return c.verifyReferenceFiles(ctx)
}

func (c *Cache) verifyReferenceFiles(ctx context.Context) (bool, error) {
	dir := c.Target.ChrootDir
	defer func() {
		if err := run.RemoveTree(context.WithoutCancel(ctx), c.Runner, dir); err != nil {
			slog.Warn("Failed to remove restored cache directory", "path", dir, "error", err)
		}
	}()

	if err := c.Restore(ctx, dir); err != nil {
		return false, err
	}

	diffs, err := c.Comparator.Compare(dir, reference.Options{
		CutNonexistentMembership: true,
		DefaultHome:              DefaultHome,
	})
	if err != nil {
		return false, fmt.Errorf("failed to compare reference files: %w", err)
	}

	for _, d := range diffs {
		if len(d.Lines) > 0 {
			slog.Debug("Reference file changed, removing squashfs cache to re-create",
				"kind", c.Target.Kind, "file", d.File, "diff", strings.Join(d.Lines, "\n"))
			return false, nil
		}
	}
	return true, nil
}

func (c *Cache) writeMarker(intact bool) {
	if c.ScratchDir == "" {
		return
	}
	value := "0"
	if intact {
		value = "1"
	}
	if err := os.MkdirAll(c.ScratchDir, 0o755); err != nil {
		slog.Warn("Failed to create scratch directory", "path", c.ScratchDir, "error", err)
		return
	}
	if err := os.WriteFile(c.MarkerPath(), []byte(value), 0o644); err != nil {
		slog.Warn("Failed to write cache marker", "path", c.MarkerPath(), "error", err)
	}
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
