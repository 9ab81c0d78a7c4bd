// Package crypto seals cache images for sharing: age encryption plus a
// BLAKE3 digest of the bytes that travel.
package crypto

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"
)

// Seal encrypts image to image+".age" and returns the sealed path with its
// BLAKE3 digest. The plain image is left in place.
func Seal(image string, recipient age.Recipient) (sealed, digest string, err error) {
	sealed = image + ".age"
	if err := Encrypt(image, sealed, recipient); err != nil {
		return "", "", fmt.Errorf("age encryption of %s failed: %w", image, err)
	}

	digest, err = BLAKE3File(sealed)
	if err != nil {
		os.Remove(sealed)
		return "", "", fmt.Errorf("BLAKE3 of %s failed: %w", sealed, err)
	}
	slog.Debug("Sealed cache image", "image", image, "blake3", digest)
	return sealed, digest, nil
}

// Open verifies sealed against digest and decrypts it to out. Nothing is
// written when the digest does not match.
func Open(sealed, out, digest string, identity age.Identity) error {
	actual, err := BLAKE3File(sealed)
	if err != nil {
		return fmt.Errorf("failed to calculate BLAKE3: %w", err)
	}
	if !strings.EqualFold(actual, digest) {
		return fmt.Errorf("BLAKE3 mismatch for %s: expected %s, got %s", sealed, digest, actual)
	}

	if err := Decrypt(sealed, out, identity); err != nil {
		return fmt.Errorf("decryption of %s failed: %w", sealed, err)
	}
	slog.Debug("Opened cache image", "image", out, "blake3", actual)
	return nil
}

// Encrypt writes the age encryption of inputFile to outputFile through a
// temporary file, so outputFile only ever holds complete ciphertext.
func Encrypt(inputFile, outputFile string, recipient age.Recipient) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(outputFile, func(out io.Writer) error {
		w, err := age.Encrypt(out, recipient)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, in); err != nil {
			return err
		}
		return w.Close()
	})
}

func Decrypt(inputFile, outputFile string, identity age.Identity) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return err
	}
	return writeAtomic(outputFile, func(out io.Writer) error {
		_, err := io.Copy(out, r)
		return err
	})
}

// BLAKE3File computes the hex BLAKE3 digest of a file.
func BLAKE3File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fill(out); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
