package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "basechroot-package.squashfs")
	require.NoError(t, os.WriteFile(image, []byte("hsqs image bytes"), 0o644))

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	sealed, digest, err := Seal(image, identity.Recipient())
	require.NoError(t, err)
	assert.Equal(t, image+".age", sealed)
	assert.Len(t, digest, 64)
	assert.FileExists(t, image)
	assert.NoFileExists(t, sealed+".tmp")

	out := filepath.Join(dir, "restored.squashfs")
	require.NoError(t, Open(sealed, out, digest, identity))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hsqs image bytes", string(data))
}

func TestOpenRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(image, []byte("data"), 0o644))

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sealed, _, err := Seal(image, identity.Recipient())
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	err = Open(sealed, out, "00", identity)
	assert.ErrorContains(t, err, "BLAKE3 mismatch")
	assert.NoFileExists(t, out)
}

func TestDecryptWrongIdentity(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(image, []byte("data"), 0o644))

	owner, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	sealed, digest, err := Seal(image, owner.Recipient())
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	assert.Error(t, Open(sealed, out, digest, other))
	assert.NoFileExists(t, out)
}

func TestBLAKE3File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	digest, err := BLAKE3File(path)
	require.NoError(t, err)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", digest)
}
