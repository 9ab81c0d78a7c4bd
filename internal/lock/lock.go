// Package lock serializes operations on the same cache kind or package
// across bstate processes with pid files.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

type Entry struct {
	Key       string `yaml:"key"`
	Pid       int    `yaml:"pid"`
	StartedAt string `yaml:"started_at"`
}

// HeldError reports a lock owned by another live process.
type HeldError struct {
	Key   string
	Owner Entry
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s is already locked by pid %d (started %s)", e.Key, e.Owner.Pid, e.Owner.StartedAt)
}

// Path is the lock file guarding key inside dir. Keys such as "cache/rootfs"
// or "source/zfs" are flattened into one file name.
func Path(dir, key string) string {
	return filepath.Join(dir, "locks", strings.ReplaceAll(key, "/", "-")+".lock")
}

func read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse lock %s: %w", path, err)
	}
	return &entry, nil
}

func write(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// alive treats EPERM as alive: the pid exists but belongs to another user.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return !errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}

// Acquire takes the lock at path for key, reclaiming it when the recorded
// owner is gone. The returned release function is safe to call twice.
func Acquire(path, key string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	existing, err := read(path)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Pid != os.Getpid() && alive(existing.Pid) {
		return nil, &HeldError{Key: key, Owner: *existing}
	}

	entry := &Entry{
		Key:       key,
		Pid:       os.Getpid(),
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := write(path, entry); err != nil {
		return nil, fmt.Errorf("failed to write lock %s: %w", path, err)
	}

	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}, nil
}
