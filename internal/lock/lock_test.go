package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func readEntry(t *testing.T, path string) Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, yaml.Unmarshal(data, &entry))
	return entry
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv/tmp", "locks", "cache-rootfs.lock"), Path("/srv/tmp", "cache/rootfs"))
}

func TestAcquireAndRelease(t *testing.T) {
	path := Path(t.TempDir(), "cache/package")

	release, err := Acquire(path, "cache/package")
	require.NoError(t, err)

	entry := readEntry(t, path)
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.Equal(t, "cache/package", entry.Key)
	assert.NotEmpty(t, entry.StartedAt)

	require.NoError(t, release())
	assert.NoFileExists(t, path)
	require.NoError(t, release())
}

func TestAcquireBlockedByLivePid(t *testing.T) {
	path := Path(t.TempDir(), "source/zfs")
	// pid 1 is always alive.
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, write(path, &Entry{Key: "source/zfs", Pid: 1, StartedAt: "2026-01-01T00:00:00Z"}))

	_, err := Acquire(path, "source/zfs")
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, 1, held.Owner.Pid)
	assert.Contains(t, err.Error(), "source/zfs is already locked by pid 1")
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := Path(t.TempDir(), "cache/cdrom")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, write(path, &Entry{Key: "cache/cdrom", Pid: 999999999, StartedAt: "2024-01-01T00:00:00Z"}))

	release, err := Acquire(path, "cache/cdrom")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, os.Getpid(), readEntry(t, path).Pid)
}

func TestDistinctKeysDoNotConflict(t *testing.T) {
	dir := t.TempDir()

	releaseA, err := Acquire(Path(dir, "cache/package"), "cache/package")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := Acquire(Path(dir, "cache/rootfs"), "cache/rootfs")
	require.NoError(t, err)
	defer releaseB()
}
