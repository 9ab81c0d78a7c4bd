// Package keys manages the age key pair used to share cache images.
package keys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"bstate/internal/crypto"
)

// Generate creates a new key pair and prints both halves to w.
func Generate(w io.Writer) (*age.X25519Identity, error) {
	fmt.Fprintln(w, "Generating age public and private key pair...")

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	fmt.Fprintln(w, "\n=== Age Key Pair Generated ===")
	fmt.Fprintf(w, "Public key:  %s\n", identity.Recipient())
	fmt.Fprintf(w, "Private key: %s\n", identity)
	fmt.Fprintln(w, "\nSet age_public_key in the config and keep the private key with every host that pulls caches.")
	return identity, nil
}

func ParseRecipient(publicKey string) (*age.X25519Recipient, error) {
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return recipient, nil
}

// LoadIdentity reads a private key file holding one AGE-SECRET-KEY line.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return identity, nil
}

// Test round-trips a sample through publicKey and the private key at
// privateKeyPath, proving they belong to the same pair.
func Test(w io.Writer, publicKey, privateKeyPath string) error {
	fmt.Fprintln(w, "Testing age key pair compatibility...")

	recipient, err := ParseRecipient(publicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Public key from config: %s\n", publicKey)

	identity, err := LoadIdentity(privateKeyPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Private key loaded from: %s\n", privateKeyPath)

	tempDir, err := os.MkdirTemp("", "bstate_key_test_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sample := "bstate cache sharing key test " + time.Now().Format(time.RFC3339)
	sampleFile := filepath.Join(tempDir, "sample.squashfs")
	if err := os.WriteFile(sampleFile, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("failed to create sample file: %w", err)
	}

	sealed, digest, err := crypto.Seal(sampleFile, recipient)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Encryption successful")

	opened := filepath.Join(tempDir, "opened.squashfs")
	if err := crypto.Open(sealed, opened, digest, identity); err != nil {
		return fmt.Errorf("%w\nThis means the private key does not match the public key in config", err)
	}

	data, err := os.ReadFile(opened)
	if err != nil {
		return fmt.Errorf("failed to read decrypted file: %w", err)
	}
	if string(data) != sample {
		return fmt.Errorf("content mismatch: decrypted content does not match original")
	}

	fmt.Fprintln(w, "Decryption and content verification successful")
	return nil
}
