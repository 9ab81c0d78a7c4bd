package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bstate/internal/config"
	"bstate/internal/logging"
)

// RunLogName is the daily log file of a CLI command, e.g. cache-20240115.log.
func RunLogName(command string, timestamp time.Time) string {
	return fmt.Sprintf("%s-%s.log", command, timestamp.Format("20060102"))
}

func RunLogPath(logDir, command string, timestamp time.Time) string {
	return filepath.Join(logDir, "bstate", RunLogName(command, timestamp))
}

// WorkDirs lists the directories every command expects to exist.
func WorkDirs(cfg *config.Config) []string {
	return []string{
		cfg.CacheDir,
		cfg.PkgDir,
		cfg.LogDir,
		filepath.Join(cfg.LogDir, "git"),
		cfg.SourcesDir,
		cfg.ScratchDir,
		cfg.HashDir,
	}
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, verbose)
	if err != nil {
		return nil, nil, err
	}
	return logger, logFile, nil
}
