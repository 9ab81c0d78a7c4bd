package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMissing(t *testing.T) {
	m, err := Read(filepath.Join(t.TempDir(), "GITMANIFEST"))
	require.NoError(t, err)
	assert.Empty(t, m.Sources)
}

func TestUpdateSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "GITMANIFEST")

	require.NoError(t, UpdateSource(path, "zfs", "https://github.com/truenas/zfs", "abc123"))
	require.NoError(t, UpdateSource(path, "middleware", "https://github.com/truenas/middleware", "def456"))
	require.NoError(t, UpdateSource(path, "zfs", "https://github.com/truenas/zfs", "0badc0de"))

	m, err := Read(path)
	require.NoError(t, err)
	require.Len(t, m.Sources, 2)
	assert.Equal(t, "0badc0de", m.Sources["zfs"].SHA)
	assert.Equal(t, "https://github.com/truenas/middleware", m.Sources["middleware"].URL)
	assert.NotZero(t, m.Sources["zfs"].UpdatedAt)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "GITMANIFEST")
	require.NoError(t, os.WriteFile(path, []byte("sources: [unterminated"), 0o644))

	_, err := Read(path)
	assert.ErrorContains(t, err, "failed to parse git manifest")
}
