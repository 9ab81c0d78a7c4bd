package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "bstate",
		Usage:   "Build state consistency: chroot caches, source checkouts and stale artifacts",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to configuration yaml file",
				Value: "bstate.yaml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print debug records on the console",
			},
		},
		Commands: []*cli.Command{
			cacheCommand(),
			sourceCommand(),
			{
				Name:  "clean",
				Usage: "Remove artifacts scheduled for removal by a previous build plan",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "package name",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "schedule",
						Usage: "record artifacts to remove before the next build instead of cleaning",
					},
					&cli.BoolFlag{
						Name:  "list",
						Usage: "print the artifacts pending removal without removing them",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runClean(ctx, cmd)
				},
			},
			{
				Name:  "check",
				Usage: "Check configuration, required tools, SSH identities and the cache share",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runCheck(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "genkey",
				Usage: "Generate a key pair for sharing caches",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return generateKey()
				},
			},
			{
				Name:  "test-keys",
				Usage: "Test if public and private key pair match",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "private-key",
						Usage:    "Path to age private key file",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return testKeys(cmd.String("config"), cmd.String("private-key"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted by user")
			os.Exit(130)
		}
		color.Danger.Printf("bstate: %v\n", err)
		slog.Debug("CLI error", "error", err)
		os.Exit(1)
	}
}
