package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/urfave/cli/v3"

	"bstate/internal/check"
	"bstate/internal/clean"
	"bstate/internal/config"
)

func runClean(_ context.Context, cmd *cli.Command) error {
	e, err := setup("clean", cmd.String("config"), cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer e.Close()

	name := cmd.String("name")
	cleaner := clean.New(e.cfg.PkgDir, e.cfg.HashDir)
	return e.withLock("source/"+name, func() error {
		if artifacts := cmd.StringSlice("schedule"); len(artifacts) > 0 {
			if err := cleaner.Schedule(name, artifacts); err != nil {
				return err
			}
			color.Success.Printf("%s: %d artifacts scheduled for removal\n", name, len(artifacts))
			return nil
		}

		if cmd.Bool("list") {
			pending, err := cleaner.Pending(name)
			if err != nil {
				return err
			}
			for _, artifact := range pending {
				fmt.Println(artifact)
			}
			return nil
		}

		removed, err := cleaner.CleanPrevious(name)
		if err != nil {
			return err
		}
		if removed {
			color.Success.Printf("%s: removed previously built packages\n", name)
		} else {
			color.Info.Printf("%s: nothing to clean\n", name)
		}
		return nil
	})
}

func runCheck(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	e := &env{cfg: cfg}
	backend, err := e.backend(ctx)
	if err != nil {
		return err
	}

	checker := check.New(cfg, os.Stdout)
	checker.Backend = backend
	return checker.Run(ctx)
}
