package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"

	"bstate/internal/config"
	"bstate/internal/keys"
)

func generateKey() error {
	_, err := keys.Generate(os.Stdout)
	return err
}

func testKeys(configPath, privateKeyPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AgePublicKey == "" {
		return fmt.Errorf("age_public_key is not set in %s", configPath)
	}

	if err := keys.Test(os.Stdout, cfg.AgePublicKey, privateKeyPath); err != nil {
		return err
	}
	color.Success.Println("Key pair test passed")
	return nil
}
