package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bstate/internal/config"
)

func TestRunLogName(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		timestamp time.Time
		want      string
	}{
		{
			name:      "cache command",
			command:   "cache",
			timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			want:      "cache-20240115.log",
		},
		{
			name:      "source command",
			command:   "source",
			timestamp: time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			want:      "source-20241231.log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RunLogName(tt.command, tt.timestamp))
		})
	}
}

func TestRunLogPath(t *testing.T) {
	ts := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "/srv/build/logs/bstate/clean-20240228.log", RunLogPath("/srv/build/logs", "clean", ts))
}

func TestSetupDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		CacheDir:   filepath.Join(base, "cache"),
		PkgDir:     filepath.Join(base, "pkgdir"),
		LogDir:     filepath.Join(base, "logs"),
		SourcesDir: filepath.Join(base, "sources"),
		ScratchDir: filepath.Join(base, "tmp"),
	}

	require.NoError(t, SetupDirectories(WorkDirs(cfg)...))
	for _, dir := range []string{"cache", "pkgdir", "logs/git", "sources", "tmp"} {
		info, err := os.Stat(filepath.Join(base, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestSetupLogging(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "bstate", "cache-20240115.log")

	logger, file, err := SetupLogging(logPath, false)
	require.NoError(t, err)
	defer file.Close()

	logger.Debug("restored cache", "kind", "rootfs")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"rootfs"`)
}
