package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"bstate/internal/config"
	"bstate/internal/keys"
	"bstate/internal/lock"
	"bstate/internal/remote"
	"bstate/internal/share"
	"bstate/internal/util"
)

// env is the loaded configuration of one CLI invocation with its log file
// installed as the default slog logger.
type env struct {
	cfg     *config.Config
	logFile *os.File
}

func setup(command, configPath string, verbose bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := util.SetupDirectories(util.WorkDirs(cfg)...); err != nil {
		return nil, err
	}

	logger, logFile, err := util.SetupLogging(util.RunLogPath(cfg.LogDir, command, time.Now()), verbose)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &env{cfg: cfg, logFile: logFile}, nil
}

func (e *env) Close() error {
	return e.logFile.Close()
}

// withLock runs fn while holding the lock for key, e.g. "cache/rootfs".
func (e *env) withLock(key string, fn func() error) error {
	release, err := lock.Acquire(lock.Path(e.cfg.ScratchDir, key), key)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release lock", "key", key, "error", err)
		}
	}()
	return fn()
}

// backend is the configured cache share: S3 when enabled, otherwise the
// shared directory. It returns nil when neither is configured.
func (e *env) backend(ctx context.Context) (remote.Backend, error) {
	switch {
	case e.cfg.S3.Enabled:
		backend, err := remote.NewS3FromConfig(ctx, e.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
		}
		return backend, nil
	case e.cfg.SharedCacheDir != "":
		return remote.NewDir(e.cfg.SharedCacheDir), nil
	}
	return nil, nil
}

func (e *env) share(ctx context.Context, privateKeyPath string) (*share.Share, error) {
	backend, err := e.backend(ctx)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("no cache share configured: enable s3 or set shared_cache_dir")
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		return nil, err
	}

	s := &share.Share{Backend: backend}
	if e.cfg.AgePublicKey != "" {
		recipient, err := keys.ParseRecipient(e.cfg.AgePublicKey)
		if err != nil {
			return nil, err
		}
		s.Recipient = recipient
	}
	if privateKeyPath != "" {
		identity, err := keys.LoadIdentity(privateKeyPath)
		if err != nil {
			return nil, err
		}
		s.Identity = identity
	}
	return s, nil
}
