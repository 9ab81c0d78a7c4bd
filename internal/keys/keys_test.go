package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, secret string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.key")
	require.NoError(t, os.WriteFile(path, []byte(secret+"\n"), 0o600))
	return path
}

func TestGenerateAndTest(t *testing.T) {
	var out bytes.Buffer
	identity, err := Generate(&out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), identity.Recipient().String())

	path := writeKey(t, identity.String())
	out.Reset()
	require.NoError(t, Test(&out, identity.Recipient().String(), path))
	assert.Contains(t, out.String(), "verification successful")
}

func TestTestMismatchedPair(t *testing.T) {
	a, err := Generate(&bytes.Buffer{})
	require.NoError(t, err)
	b, err := Generate(&bytes.Buffer{})
	require.NoError(t, err)

	err = Test(&bytes.Buffer{}, a.Recipient().String(), writeKey(t, b.String()))
	assert.ErrorContains(t, err, "does not match the public key")
}

func TestLoadIdentityErrors(t *testing.T) {
	_, err := LoadIdentity(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "failed to read private key")

	_, err = LoadIdentity(writeKey(t, "not-a-key"))
	assert.ErrorContains(t, err, "failed to parse private key")

	_, err = ParseRecipient("age1invalid")
	assert.ErrorContains(t, err, "failed to parse public key")
}
