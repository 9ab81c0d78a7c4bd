package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeTruncateThenAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git", "zfs.log")

	first, err := OpenScope(path, ModeTruncate)
	require.NoError(t, err)
	first.Logger().Info("first attempt")
	require.NoError(t, first.Close())

	second, err := OpenScope(path, ModeAppend)
	require.NoError(t, err)
	second.Logger().Warn("second attempt")
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first attempt")
	assert.Contains(t, string(data), "second attempt")

	third, err := OpenScope(path, ModeTruncate)
	require.NoError(t, err)
	require.NoError(t, third.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestScopeWriterStreamsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	scope, err := OpenScope(path, ModeTruncate)
	require.NoError(t, err)

	w := scope.Writer()
	_, err = fmt.Fprint(w, "Cloning into 'zfs'...\nremote: Enumer")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Cloning into 'zfs'...\n", string(data))

	_, err = fmt.Fprint(w, "ating objects")
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, scope.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Cloning into 'zfs'...\nremote: Enumerating objects\n", string(data))
}

func TestScopeCloseIdempotent(t *testing.T) {
	scope, err := OpenScope(filepath.Join(t.TempDir(), "x.log"), ModeTruncate)
	require.NoError(t, err)

	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())

	_, err = scope.Writer().Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestNilScopeDiscards(t *testing.T) {
	var scope *Scope

	scope.Logger().Info("dropped")
	_, err := scope.Writer().Write([]byte("dropped\n"))
	assert.NoError(t, err)
	assert.NoError(t, scope.Close())
	assert.Empty(t, scope.Path())
}
