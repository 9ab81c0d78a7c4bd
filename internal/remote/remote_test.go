package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStorageClass(t *testing.T) {
	tests := []struct {
		name         string
		storageClass string
		wantErr      bool
		errContains  string
	}{
		{
			name:         "STANDARD is accessible",
			storageClass: "STANDARD",
			wantErr:      false,
		},
		{
			name:         "STANDARD_IA is accessible",
			storageClass: "STANDARD_IA",
			wantErr:      false,
		},
		{
			name:         "INTELLIGENT_TIERING is accessible",
			storageClass: "INTELLIGENT_TIERING",
			wantErr:      false,
		},
		{
			name:         "GLACIER is not accessible",
			storageClass: "GLACIER",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "DEEP_ARCHIVE is not accessible",
			storageClass: "DEEP_ARCHIVE",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "empty string is accessible",
			storageClass: "",
			wantErr:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageClass(tt.storageClass)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDirBackend(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d := NewDir(root)
	require.NoError(t, d.VerifyCredentials(ctx))

	src := filepath.Join(t.TempDir(), "basechroot-rootfs.squashfs")
	require.NoError(t, os.WriteFile(src, []byte("image"), 0o644))

	_, err := d.Head(ctx, "caches/basechroot-rootfs.squashfs")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Upload(ctx, src, "caches/basechroot-rootfs.squashfs", map[string]string{"blake3": "abc"}))

	info, err := d.Head(ctx, "caches/basechroot-rootfs.squashfs")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "abc", info.Metadata["blake3"])

	dst := filepath.Join(t.TempDir(), "pulled")
	require.NoError(t, d.Download(ctx, "caches/basechroot-rootfs.squashfs", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))

	require.NoError(t, d.Delete(ctx, "caches/basechroot-rootfs.squashfs"))
	require.NoError(t, d.Delete(ctx, "caches/basechroot-rootfs.squashfs"))
	assert.ErrorIs(t, d.Download(ctx, "caches/basechroot-rootfs.squashfs", dst), ErrNotFound)
}

func TestDirVerifyCredentialsMissingRoot(t *testing.T) {
	d := NewDir(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, d.VerifyCredentials(context.Background()), "not accessible")
}
