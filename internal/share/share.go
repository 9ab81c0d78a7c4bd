// Package share moves cache generations between build hosts through a
// remote backend.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"filippo.io/age"

	"bstate/internal/bootstrap"
	"bstate/internal/crypto"
	"bstate/internal/remote"
)

const (
	keyPrefix = "caches"

	metaBlake3    = "blake3"
	metaEncrypted = "encrypted"
	metaKind      = "kind"
)

// Share pushes and pulls generations. Recipient enables encryption on push;
// Identity is needed to pull encrypted images.
type Share struct {
	Backend   remote.Backend
	Recipient age.Recipient
	Identity  age.Identity
}

// Key is the object name of a cache file.
func Key(filename string) string {
	return path.Join(keyPrefix, filename)
}

// Push uploads the generation of c. The hash object is uploaded last so a
// reader that finds it can rely on the other two.
func (s *Share) Push(ctx context.Context, c *bootstrap.Cache) error {
	if !c.Exists() {
		return fmt.Errorf("no cache generation for %s to push", c.Target.Kind)
	}

	image := c.ImagePath()
	meta := map[string]string{metaKind: c.Target.Kind.String(), metaEncrypted: "false"}
	if s.Recipient != nil {
		sealed, digest, err := crypto.Seal(image, s.Recipient)
		if err != nil {
			return err
		}
		defer os.Remove(sealed)
		image = sealed
		meta[metaBlake3] = digest
		meta[metaEncrypted] = "true"
	} else {
		digest, err := crypto.BLAKE3File(image)
		if err != nil {
			return fmt.Errorf("BLAKE3 of %s failed: %w", image, err)
		}
		meta[metaBlake3] = digest
	}

	if err := s.Backend.Upload(ctx, image, Key(filepath.Base(c.ImagePath())), meta); err != nil {
		return err
	}
	if err := s.Backend.Upload(ctx, c.PackagesPath(), Key(filepath.Base(c.PackagesPath())), nil); err != nil {
		return err
	}
	if err := s.Backend.Upload(ctx, c.HashPath(), Key(filepath.Base(c.HashPath())), nil); err != nil {
		return err
	}

	slog.Info("Pushed cache generation", "kind", c.Target.Kind, "blake3", meta[metaBlake3], "encrypted", meta[metaEncrypted])
	return nil
}

// Pull replaces the local generation of c with the remote one. The hash file
// is written last, so an interrupted pull leaves a generation that Exists
// reports as absent. Pulled generations still have to pass IsIntact.
func (s *Share) Pull(ctx context.Context, c *bootstrap.Cache) (err error) {
	if _, err := s.Backend.Head(ctx, Key(filepath.Base(c.HashPath()))); err != nil {
		return fmt.Errorf("no shared generation for %s: %w", c.Target.Kind, err)
	}

	imageInfo, err := s.Backend.Head(ctx, Key(filepath.Base(c.ImagePath())))
	if err != nil {
		return fmt.Errorf("shared image for %s: %w", c.Target.Kind, err)
	}
	digest := imageInfo.Metadata[metaBlake3]
	if digest == "" {
		return fmt.Errorf("shared image for %s has no %s metadata", c.Target.Kind, metaBlake3)
	}
	encrypted := imageInfo.Metadata[metaEncrypted] == "true"
	if encrypted && s.Identity == nil {
		return errors.New("shared image is encrypted, a private key is required to pull it")
	}

	if err := c.Remove(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := c.Remove(); rmErr != nil {
				slog.Warn("Failed to remove partial pull", "kind", c.Target.Kind, "error", rmErr)
			}
		}
	}()

	part := c.ImagePath() + ".part"
	defer os.Remove(part)
	if err := s.Backend.Download(ctx, Key(filepath.Base(c.ImagePath())), part); err != nil {
		return err
	}

	if encrypted {
		if err := crypto.Open(part, c.ImagePath(), digest, s.Identity); err != nil {
			return err
		}
	} else {
		actual, err := crypto.BLAKE3File(part)
		if err != nil {
			return err
		}
		if actual != digest {
			return fmt.Errorf("BLAKE3 mismatch for shared image: expected %s, got %s", digest, actual)
		}
		if err := os.Rename(part, c.ImagePath()); err != nil {
			return err
		}
	}

	if err := s.Backend.Download(ctx, Key(filepath.Base(c.PackagesPath())), c.PackagesPath()); err != nil {
		return err
	}
	if err := s.Backend.Download(ctx, Key(filepath.Base(c.HashPath())), c.HashPath()); err != nil {
		return err
	}

	slog.Info("Pulled cache generation", "kind", c.Target.Kind, "blake3", digest, "encrypted", encrypted)
	return nil
}

// Remove deletes the shared generation of c. The hash object goes first so a
// concurrent Pull sees the generation as absent.
func (s *Share) Remove(ctx context.Context, c *bootstrap.Cache) error {
	for _, p := range []string{c.HashPath(), c.ImagePath(), c.PackagesPath()} {
		if err := s.Backend.Delete(ctx, Key(filepath.Base(p))); err != nil {
			return fmt.Errorf("failed to remove shared %s: %w", filepath.Base(p), err)
		}
	}
	slog.Info("Removed shared cache generation", "kind", c.Target.Kind)
	return nil
}
