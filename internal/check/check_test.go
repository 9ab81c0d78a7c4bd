package check

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bstate/internal/config"
	"bstate/internal/remote"
	"bstate/internal/source"
)

func newChecker(t *testing.T, missing ...string) (*Checker, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		BaseDir:         t.TempDir(),
		CheckoutRetries: 3,
		Sources: []config.Source{
			{Name: "zfs", Repo: "https://github.com/truenas/zfs", Branch: "master"},
		},
	}
	out := &bytes.Buffer{}
	c := New(cfg, out)
	c.LookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", errors.New("executable file not found in $PATH")
			}
		}
		return "/usr/bin/" + name, nil
	}
	return c, out
}

func TestRunPasses(t *testing.T) {
	c, out := newChecker(t)
	c.Backend = remote.NewDir(t.TempDir())

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "tool mksquashfs (/usr/bin/mksquashfs): OK")
	assert.Contains(t, out.String(), "source zfs (https): OK")
	assert.Contains(t, out.String(), "cache share: OK")
	assert.Contains(t, out.String(), "all checks passed")
}

func TestRunMissingTool(t *testing.T) {
	c, _ := newChecker(t, "unsquashfs")
	assert.ErrorContains(t, c.Run(context.Background()), "tool unsquashfs")
}

func TestRunInvalidIdentity(t *testing.T) {
	c, _ := newChecker(t)
	c.Config.Sources = append(c.Config.Sources, config.Source{
		Name: "py-libzfs", Repo: "git@github.com:truenas/py-libzfs.git", Branch: "master",
	})

	err := c.Run(context.Background())
	var idErr *source.IdentityError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, source.IdentityMissing, idErr.Reason)
}

func TestRunMissingReferenceFiles(t *testing.T) {
	c, _ := newChecker(t)
	c.Config.ReferenceDir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(c.Config.ReferenceDir, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Config.ReferenceDir, "etc", "passwd"), nil, 0o644))

	assert.ErrorContains(t, c.Run(context.Background()), "reference file etc/group")
}
