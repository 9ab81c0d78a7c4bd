package share

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bstate/internal/bootstrap"
	"bstate/internal/mirror"
	"bstate/internal/remote"
)

func newCache(t *testing.T) *bootstrap.Cache {
	t.Helper()
	base := t.TempDir()
	target := bootstrap.Target{Kind: bootstrap.KindRootfs, ChrootDir: filepath.Join(base, "chroot")}
	return bootstrap.New(target, filepath.Join(base, "cache"), filepath.Join(base, "tmp"), nil, mirror.Static("H1"), nil)
}

func writeGeneration(t *testing.T, c *bootstrap.Cache) {
	t.Helper()
	require.NoError(t, os.MkdirAll(c.Dir, 0o755))
	require.NoError(t, os.WriteFile(c.ImagePath(), []byte("hsqs rootfs"), 0o644))
	require.NoError(t, os.WriteFile(c.PackagesPath(), []byte("- pkgA\n"), 0o644))
	require.NoError(t, os.WriteFile(c.HashPath(), []byte("H1"), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPushPullPlain(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewDir(t.TempDir())

	src := newCache(t)
	writeGeneration(t, src)
	require.NoError(t, (&Share{Backend: backend}).Push(ctx, src))

	info, err := backend.Head(ctx, Key("basechroot-rootfs.squashfs"))
	require.NoError(t, err)
	assert.Equal(t, "false", info.Metadata["encrypted"])
	assert.Equal(t, "rootfs", info.Metadata["kind"])
	assert.Len(t, info.Metadata["blake3"], 64)

	dst := newCache(t)
	require.NoError(t, (&Share{Backend: backend}).Pull(ctx, dst))
	assert.True(t, dst.Exists())
	assert.Equal(t, "hsqs rootfs", readFile(t, dst.ImagePath()))
	assert.Equal(t, "H1", readFile(t, dst.HashPath()))
	assert.NoFileExists(t, dst.ImagePath()+".part")
}

func TestPushPullEncrypted(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewDir(t.TempDir())
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	src := newCache(t)
	writeGeneration(t, src)
	require.NoError(t, (&Share{Backend: backend, Recipient: identity.Recipient()}).Push(ctx, src))
	assert.NoFileExists(t, src.ImagePath()+".age", "sealed copy is temporary")

	stored := readFile(t, filepath.Join(backend.Root, "caches", "basechroot-rootfs.squashfs"))
	assert.NotContains(t, stored, "hsqs rootfs")

	dst := newCache(t)
	err = (&Share{Backend: backend}).Pull(ctx, dst)
	assert.ErrorContains(t, err, "private key is required")
	assert.False(t, dst.Exists())

	require.NoError(t, (&Share{Backend: backend, Identity: identity}).Pull(ctx, dst))
	assert.Equal(t, "hsqs rootfs", readFile(t, dst.ImagePath()))
}

func TestPushWithoutGeneration(t *testing.T) {
	err := (&Share{Backend: remote.NewDir(t.TempDir())}).Push(context.Background(), newCache(t))
	assert.ErrorContains(t, err, "no cache generation")
}

func TestPullMissingRemote(t *testing.T) {
	dst := newCache(t)
	writeGeneration(t, dst)

	err := (&Share{Backend: remote.NewDir(t.TempDir())}).Pull(context.Background(), dst)
	assert.ErrorIs(t, err, remote.ErrNotFound)
	assert.True(t, dst.Exists(), "local generation is kept when nothing is shared")
}

func TestPullCorruptImageLeavesNothing(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewDir(t.TempDir())

	src := newCache(t)
	writeGeneration(t, src)
	require.NoError(t, (&Share{Backend: backend}).Push(ctx, src))
	require.NoError(t, os.WriteFile(filepath.Join(backend.Root, "caches", "basechroot-rootfs.squashfs"), []byte("tampered"), 0o644))

	dst := newCache(t)
	writeGeneration(t, dst)
	err := (&Share{Backend: backend}).Pull(ctx, dst)
	assert.ErrorContains(t, err, "BLAKE3 mismatch")
	for _, p := range []string{dst.ImagePath(), dst.PackagesPath(), dst.HashPath()} {
		assert.NoFileExists(t, p)
	}
}

func TestRemoveShared(t *testing.T) {
	ctx := context.Background()
	backend := remote.NewDir(t.TempDir())
	s := &Share{Backend: backend}

	src := newCache(t)
	writeGeneration(t, src)
	require.NoError(t, s.Push(ctx, src))

	require.NoError(t, s.Remove(ctx, src))
	for _, p := range []string{src.ImagePath(), src.PackagesPath(), src.HashPath()} {
		_, err := backend.Head(ctx, Key(filepath.Base(p)))
		assert.ErrorIs(t, err, remote.ErrNotFound)
	}
	assert.True(t, src.Exists(), "local generation is untouched")

	require.NoError(t, s.Remove(ctx, src), "nothing shared")
	assert.ErrorIs(t, s.Pull(ctx, newCache(t)), remote.ErrNotFound)
}
