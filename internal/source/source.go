// Package source keeps package source trees in sync with their git remotes.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bstate/internal/config"
	"bstate/internal/run"
)

const tryBranchAttempts = 3

// GitSynced is implemented by packages whose sources come from git.
type GitSynced interface {
	ResolveBranch(ctx context.Context) string
	Checkout(ctx context.Context, retries int) error
	ValidateCheckout() error
}

type GitSource struct {
	Name             string
	Origin           string
	Branch           string
	Path             string
	IdentityFilePath string
}

type Repository struct {
	Source       GitSource
	Config       *config.Config
	Runner       run.Runner
	LogDir       string
	ManifestPath string
}

var _ GitSynced = (*Repository)(nil)

// New builds the repository for a configured source, checked out under
// cfg.SourcesDir and logging to cfg.LogDir/git.
func New(cfg *config.Config, src config.Source, runner run.Runner) *Repository {
	return &Repository{
		Source: GitSource{
			Name:             src.Name,
			Origin:           src.Repo,
			Branch:           src.Branch,
			Path:             filepath.Join(cfg.SourcesDir, src.Name),
			IdentityFilePath: src.IdentityFilePath,
		},
		Config:       cfg,
		Runner:       runner,
		LogDir:       filepath.Join(cfg.LogDir, "git"),
		ManifestPath: cfg.GitManifest,
	}
}

func (r *Repository) LogFile() string {
	return filepath.Join(r.LogDir, r.Source.Name+".log")
}

func (r *Repository) Exists() bool {
	info, err := os.Stat(r.Source.Path)
	return err == nil && info.IsDir()
}

// ResolveBranch picks the branch to check out: the global override, then
// the per-package override, then the try override if the remote has it,
// then the branch declared for the source.
func (r *Repository) ResolveBranch(ctx context.Context) string {
	overrides := r.Config.BranchOverrides
	if overrides.Global != "" {
		return overrides.Global
	}
	if b := overrides.Packages[r.Source.Name]; b != "" {
		return b
	}
	if overrides.Try != "" && r.tryBranchExists(ctx, overrides.Try) {
		return overrides.Try
	}
	return r.Source.Branch
}

// tryBranchExists treats a remote that cannot be queried after
// tryBranchAttempts as not having the branch.
func (r *Repository) tryBranchExists(ctx context.Context, branch string) bool {
	for attempt := 1; attempt <= tryBranchAttempts; attempt++ {
		exists, err := r.BranchExistsInRemote(ctx, branch)
		if err == nil {
			return exists
		}
		slog.Debug("Failed to determine if branch exists, trying again",
			"branch", branch, "origin", r.Source.Origin, "attempt", attempt, "error", err)
	}
	slog.Debug("Unable to determine if branch exists", "branch", branch, "attempts", tryBranchAttempts)
	return false
}

func (r *Repository) BranchExistsInRemote(ctx context.Context, branch string) (bool, error) {
	argv := append(r.GitArgs(), "ls-remote", "--heads", r.Source.Origin, "refs/heads/"+branch)
	res, err := r.Runner.Run(ctx, argv, run.Options{})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// ExistingBranch is the branch checked out locally, empty when there is no
// usable clone.
func (r *Repository) ExistingBranch(ctx context.Context) string {
	if !r.Exists() {
		return ""
	}
	return r.localGit(ctx, "branch", "--show-current")
}

// RemoteOriginAndSHA reports the origin URL and HEAD commit of the local
// clone, both empty when there is none.
func (r *Repository) RemoteOriginAndSHA(ctx context.Context) (url, sha string) {
	if !r.Exists() {
		return "", ""
	}
	return r.localGit(ctx, "remote", "get-url", "origin"), r.localGit(ctx, "rev-parse", "HEAD")
}

func (r *Repository) localGit(ctx context.Context, args ...string) string {
	argv := append([]string{"git", "-C", r.Source.Path}, args...)
	res, err := r.Runner.Run(ctx, argv, run.Options{AllowFailure: true})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// BranchOut creates newBranch locally from base, or from the source branch
// when base is empty.
func (r *Repository) BranchOut(ctx context.Context, newBranch, base string) error {
	if base == "" {
		base = r.Source.Branch
	}
	argv := []string{"git", "-C", r.Source.Path, "checkout", "-b", newBranch, base}
	if _, err := r.Runner.Run(ctx, argv, run.Options{}); err != nil {
		return fmt.Errorf("failed to create branch %s from %s in %s: %w", newBranch, base, r.Source.Name, err)
	}
	return nil
}
