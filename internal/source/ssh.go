package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"bstate/internal/config"
)

type IdentityReason string

const (
	IdentityMissing     IdentityReason = "missing"
	IdentityNotFound    IdentityReason = "not-found"
	IdentityPermissions IdentityReason = "permissions"
)

type IdentityError struct {
	Package string
	Path    string
	Reason  IdentityReason
	Mode    fs.FileMode
}

func (e *IdentityError) Error() string {
	switch e.Reason {
	case IdentityMissing:
		return fmt.Sprintf("identity file path must be specified in order to checkout %q: set "+
			"\"identity_file_path\" for the source in the manifest or provide the %q environment variable",
			e.Package, config.EnvKey(e.Package)+config.IdentityFileOverrideSuffix)
	case IdentityNotFound:
		return fmt.Sprintf("%q identity file path does not exist", e.Path)
	case IdentityPermissions:
		return fmt.Sprintf("%q identity file path should have 0600 permissions, has %#o", e.Path, e.Mode)
	}
	return fmt.Sprintf("invalid identity file %q for %q", e.Path, e.Package)
}

func (r *Repository) IsSSH() bool {
	return r.Config.IsSSHSource(r.Source.Origin)
}

// IdentityFile resolves the SSH identity for the source: the per-package
// override, then the source attribute, then the configured default. The
// result is absolute because git changes directory with -C.
func (r *Repository) IdentityFile() (string, error) {
	path := r.Config.IdentityFileOverrides[r.Source.Name]
	if path == "" {
		path = r.Source.IdentityFilePath
	}
	if path == "" {
		path = r.Config.IdentityFilePathDefault
	}
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// ValidateCheckout checks the SSH identity of SSH sources. Other sources
// always pass.
func (r *Repository) ValidateCheckout() error {
	if !r.IsSSH() {
		return nil
	}

	path, err := r.IdentityFile()
	if err != nil {
		return err
	}
	if path == "" {
		return &IdentityError{Package: r.Source.Name, Reason: IdentityMissing}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &IdentityError{Package: r.Source.Name, Path: path, Reason: IdentityNotFound}
		}
		return fmt.Errorf("failed to stat identity file %s: %w", path, err)
	}

	if mode := info.Mode().Perm(); mode != 0o600 {
		return &IdentityError{Package: r.Source.Name, Path: path, Reason: IdentityPermissions, Mode: mode}
	}
	return nil
}

// GitArgs is the git invocation prefix. SSH sources pin the identity file
// and accept host keys only for hosts not seen before.
func (r *Repository) GitArgs() []string {
	if !r.IsSSH() {
		return []string{"git"}
	}
	path, err := r.IdentityFile()
	if err != nil || path == "" {
		return []string{"git"}
	}
	return []string{
		"git", "-c",
		"core.sshCommand=ssh -i " + path + " -o StrictHostKeyChecking=accept-new",
	}
}
