package main

import (
	"context"
	"fmt"

	"github.com/gookit/color"
	"github.com/urfave/cli/v3"

	"bstate/internal/config"
	"bstate/internal/run"
	"bstate/internal/source"
)

func sourceCommand() *cli.Command {
	nameFlag := &cli.StringSliceFlag{
		Name:  "name",
		Usage: "source name, repeatable (defaults to every configured source)",
	}

	return &cli.Command{
		Name:  "source",
		Usage: "Keep package sources in sync with their git remotes",
		Commands: []*cli.Command{
			{
				Name:  "checkout",
				Usage: "Clone or update sources",
				Flags: []cli.Flag{
					nameFlag,
					&cli.IntFlag{
						Name:  "retries",
						Usage: "attempts per source, between 3 and 10 (defaults to checkout_retries)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSources(cmd, func(e *env, repo *source.Repository) error {
						retries := int(cmd.Int("retries"))
						if retries == 0 {
							retries = e.cfg.CheckoutRetries
						}
						return e.withLock("source/"+repo.Source.Name, func() error {
							if err := repo.Checkout(ctx, retries); err != nil {
								return err
							}
							color.Success.Printf("%s checked out\n", repo.Source.Name)
							return nil
						})
					})
				},
			},
			{
				Name:  "resolve",
				Usage: "Print the branch each source would be checked out at",
				Flags: []cli.Flag{nameFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSources(cmd, func(e *env, repo *source.Repository) error {
						fmt.Printf("%-24s %s\n", repo.Source.Name, repo.ResolveBranch(ctx))
						return nil
					})
				},
			},
			{
				Name:  "branch-out",
				Usage: "Create a local branch in checked out sources",
				Flags: []cli.Flag{
					nameFlag,
					&cli.StringFlag{
						Name:     "branch",
						Usage:    "new branch name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "base",
						Usage: "base branch (defaults to the configured branch)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSources(cmd, func(e *env, repo *source.Repository) error {
						return e.withLock("source/"+repo.Source.Name, func() error {
							if err := repo.BranchOut(ctx, cmd.String("branch"), cmd.String("base")); err != nil {
								return err
							}
							color.Success.Printf("%s: created branch %s\n", repo.Source.Name, cmd.String("branch"))
							return nil
						})
					})
				},
			},
		},
	}
}

func withSources(cmd *cli.Command, fn func(*env, *source.Repository) error) error {
	e, err := setup("source", cmd.String("config"), cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer e.Close()

	sources := e.cfg.Sources
	if names := cmd.StringSlice("name"); len(names) > 0 {
		sources = make([]config.Source, 0, len(names))
		for _, name := range names {
			src, err := e.cfg.FindSource(name)
			if err != nil {
				return err
			}
			sources = append(sources, *src)
		}
	}

	runner := &run.Exec{AsRoot: true}
	for _, src := range sources {
		if err := fn(e, source.New(e.cfg, src, runner)); err != nil {
			return err
		}
	}
	return nil
}
