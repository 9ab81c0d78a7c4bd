package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dir keeps objects as files under Root, with metadata in a ".meta" YAML
// file next to each object. It serves shared caches on NFS mounts.
type Dir struct {
	Root string
}

var _ Backend = (*Dir)(nil)

func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.Root, filepath.FromSlash(key))
}

func (d *Dir) Upload(_ context.Context, localPath, key string, metadata map[string]string) error {
	dst := d.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if metadata != nil {
		data, err := yaml.Marshal(metadata)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst+".meta", data, 0o644); err != nil {
			return fmt.Errorf("failed to write metadata for %s: %w", key, err)
		}
	}
	if err := copyFile(localPath, dst); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (d *Dir) Download(_ context.Context, key, localPath string) error {
	if err := copyFile(d.path(key), localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	return nil
}

func (d *Dir) Head(_ context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(d.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}

	obj := &ObjectInfo{Size: info.Size()}
	data, err := os.ReadFile(d.path(key) + ".meta")
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &obj.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for %s: %w", key, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return obj, nil
}

func (d *Dir) Delete(_ context.Context, key string) error {
	for _, p := range []string{d.path(key), d.path(key) + ".meta"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (d *Dir) VerifyCredentials(context.Context) error {
	info, err := os.Stat(d.Root)
	if err != nil {
		return fmt.Errorf("cache share directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache share %s is not a directory", d.Root)
	}
	return nil
}

// copyFile writes dst through a temporary file so readers never see a
// partial object.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
