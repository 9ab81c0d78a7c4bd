package bootstrap

import (
	"path/filepath"

	"bstate/internal/config"
	"bstate/internal/mirror"
	"bstate/internal/reference"
	"bstate/internal/run"
)

// ChrootDir is where the chroot of kind is built and restored for checks.
func ChrootDir(cfg *config.Config, kind Kind) string {
	return filepath.Join(cfg.ScratchDir, "tmpfs", kind.String()+"-chroot")
}

// Packages is the package set configured for kind.
func Packages(cfg *config.Config, kind Kind) []string {
	switch kind {
	case KindRootfs:
		return cfg.Bootstrap.Rootfs
	case KindCdrom:
		return cfg.Bootstrap.Cdrom
	default:
		return cfg.Bootstrap.Package
	}
}

// FromConfig wires a cache for kind to the configured mirrors and reference
// files.
func FromConfig(cfg *config.Config, kind Kind, runner run.Runner) *Cache {
	target := Target{
		Kind:      kind,
		ChrootDir: ChrootDir(cfg, kind),
		Packages:  Packages(cfg, kind),
	}
	return New(target, cfg.CacheDir, cfg.ScratchDir, runner,
		mirror.NewHTTPOracle(cfg.Mirrors), reference.NewFileComparator(cfg.ReferenceDir))
}
