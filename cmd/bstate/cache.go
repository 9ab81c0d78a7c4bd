package main

import (
	"context"
	"fmt"

	"github.com/gookit/color"
	"github.com/urfave/cli/v3"

	"bstate/internal/bootstrap"
	"bstate/internal/run"
)

func kindFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "kind",
		Usage:    "bootstrap kind: package, rootfs or cdrom",
		Required: true,
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage cached bootstrap chroots",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the cache generation of every kind",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCaches(cmd, "", cacheStatus)
				},
			},
			{
				Name:  "check",
				Usage: "Verify a cache against upstream mirrors and reference files, removing it when stale",
				Flags: []cli.Flag{kindFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						intact, err := c.IsIntact(ctx)
						if err != nil {
							return err
						}
						if intact {
							color.Success.Printf("%s cache is intact\n", c.Target.Kind)
						} else {
							color.Warn.Printf("%s cache is stale or missing\n", c.Target.Kind)
						}
						return nil
					})
				},
			},
			{
				Name:  "save",
				Usage: "Package the chroot of a kind into its cache",
				Flags: []cli.Flag{
					kindFlag(),
					&cli.StringSliceFlag{
						Name:  "installed",
						Usage: "packages installed in the chroot (defaults to the configured set)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						installed := cmd.StringSlice("installed")
						if len(installed) == 0 {
							installed = c.Target.Packages
						}
						if err := c.Save(ctx, installed); err != nil {
							return err
						}
						color.Success.Printf("%s cache saved to %s\n", c.Target.Kind, c.ImagePath())
						return nil
					})
				},
			},
			{
				Name:  "restore",
				Usage: "Unpack a cache into a directory",
				Flags: []cli.Flag{
					kindFlag(),
					&cli.StringFlag{
						Name:  "dir",
						Usage: "target directory (defaults to the chroot directory of the kind)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						if !c.Exists() {
							return fmt.Errorf("no %s cache to restore", c.Target.Kind)
						}
						dir := cmd.String("dir")
						if dir == "" {
							dir = c.Target.ChrootDir
						}
						if err := c.Restore(ctx, dir); err != nil {
							return err
						}
						color.Success.Printf("%s cache restored into %s\n", c.Target.Kind, dir)
						return nil
					})
				},
			},
			{
				Name:  "remove",
				Usage: "Remove the cache of a kind",
				Flags: []cli.Flag{
					kindFlag(),
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "also remove the generation from the cache share",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						if err := c.Remove(); err != nil {
							return err
						}
						color.Success.Printf("%s cache removed\n", c.Target.Kind)
						if !cmd.Bool("remote") {
							return nil
						}
						s, err := e.share(ctx, "")
						if err != nil {
							return err
						}
						if err := s.Remove(ctx, c); err != nil {
							return err
						}
						color.Success.Printf("%s shared cache removed\n", c.Target.Kind)
						return nil
					})
				},
			},
			{
				Name:  "push",
				Usage: "Upload the cache of a kind to the cache share",
				Flags: []cli.Flag{kindFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						s, err := e.share(ctx, "")
						if err != nil {
							return err
						}
						if err := s.Push(ctx, c); err != nil {
							return err
						}
						color.Success.Printf("%s cache pushed\n", c.Target.Kind)
						return nil
					})
				},
			},
			{
				Name:  "pull",
				Usage: "Download the cache of a kind from the cache share",
				Flags: []cli.Flag{
					kindFlag(),
					&cli.StringFlag{
						Name:  "private-key",
						Usage: "Path to age private key file, needed for encrypted caches",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withCache(cmd, func(e *env, c *bootstrap.Cache) error {
						s, err := e.share(ctx, cmd.String("private-key"))
						if err != nil {
							return err
						}
						if err := s.Pull(ctx, c); err != nil {
							return err
						}
						color.Success.Printf("%s cache pulled, run \"cache check\" before using it\n", c.Target.Kind)
						return nil
					})
				},
			},
		},
	}
}

// withCache runs fn on the cache named by --kind while holding its lock.
func withCache(cmd *cli.Command, fn func(*env, *bootstrap.Cache) error) error {
	kind, err := bootstrap.ParseKind(cmd.String("kind"))
	if err != nil {
		return err
	}
	return withCaches(cmd, kind.String(), func(e *env, caches []*bootstrap.Cache) error {
		return e.withLock("cache/"+kind.String(), func() error {
			return fn(e, caches[0])
		})
	})
}

// withCaches builds the caches of every kind, or only of only when set.
func withCaches(cmd *cli.Command, only string, fn func(*env, []*bootstrap.Cache) error) error {
	e, err := setup("cache", cmd.String("config"), cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer e.Close()

	runner := &run.Exec{AsRoot: true}
	var caches []*bootstrap.Cache
	for _, kind := range bootstrap.Kinds() {
		if only != "" && kind.String() != only {
			continue
		}
		caches = append(caches, bootstrap.FromConfig(e.cfg, kind, runner))
	}
	return fn(e, caches)
}

func cacheStatus(e *env, caches []*bootstrap.Cache) error {
	for _, c := range caches {
		color.Bold.Printf("%-8s", c.Target.Kind)

		hash, ok, err := c.MirrorHash()
		if err != nil {
			return err
		}
		if !ok {
			color.Warn.Println(" absent")
			continue
		}

		changed, err := c.InstalledPackagesChanged()
		if err != nil {
			return err
		}
		fmt.Printf(" present  hash=%s", hash)
		if changed {
			color.Warn.Print("  [package set changed]")
		}
		fmt.Println()
	}
	return nil
}
