package check

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"bstate/internal/config"
	"bstate/internal/reference"
	"bstate/internal/remote"
	"bstate/internal/source"
)

// RequiredTools must be on PATH for caching and checkouts.
var RequiredTools = []string{"mksquashfs", "unsquashfs", "git"}

type Checker struct {
	Config   *config.Config
	Out      io.Writer
	LookPath func(string) (string, error)
	// Backend is verified when set; the caller builds it from the s3 section.
	Backend remote.Backend
}

func New(cfg *config.Config, out io.Writer) *Checker {
	return &Checker{Config: cfg, Out: out, LookPath: exec.LookPath}
}

func (c *Checker) Run(ctx context.Context) error {
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(c.Out, "config: OK")

	for _, tool := range RequiredTools {
		path, err := c.LookPath(tool)
		if err != nil {
			return fmt.Errorf("tool %s: %w", tool, err)
		}
		fmt.Fprintf(c.Out, "tool %s (%s): OK\n", tool, path)
	}

	if c.Config.ReferenceDir != "" {
		for _, name := range []string{reference.PasswdFile, reference.GroupFile} {
			path := filepath.Join(c.Config.ReferenceDir, name)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("reference file %s: %w", name, err)
			}
		}
		fmt.Fprintf(c.Out, "reference files in %s: OK\n", c.Config.ReferenceDir)
	}

	for _, src := range c.Config.Sources {
		repo := source.New(c.Config, src, nil)
		if err := repo.ValidateCheckout(); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
		kind := "https"
		if repo.IsSSH() {
			kind = "ssh"
		}
		fmt.Fprintf(c.Out, "source %s (%s): OK\n", src.Name, kind)
	}

	if c.Backend != nil {
		if err := c.Backend.VerifyCredentials(ctx); err != nil {
			return fmt.Errorf("cache share: %w", err)
		}
		fmt.Fprintln(c.Out, "cache share: OK")
	}

	fmt.Fprintln(c.Out, "all checks passed")
	return nil
}
