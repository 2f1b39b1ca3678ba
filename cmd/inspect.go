package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/chuan-gyld/ai-firm/coreengine/persistence"
)

// inspectCommand reads a run's database offline.
func inspectCommand() *cli.Command {
	projectFlag := &cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "project id", Required: true}

	return &cli.Command{
		Name:  "inspect",
		Usage: "read snapshots and artifacts from a run database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sqlite", Usage: "database path (defaults to sqlite_path from config)"},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "snapshots",
				Usage: "list recent snapshots of a project",
				Flags: []cli.Flag{projectFlag, &cli.IntFlag{Name: "limit", Value: 20}},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *persistence.Store) error {
						infos, err := store.ListSnapshots(ctx, c.String("project"), c.Int("limit"))
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, infos)
					})
				},
			},
			{
				Name:  "latest",
				Usage: "print the latest snapshot of a project",
				Flags: []cli.Flag{projectFlag},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *persistence.Store) error {
						snap, err := store.LatestSnapshot(ctx, c.String("project"))
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, snap)
					})
				},
			},
			{
				Name:  "artifacts",
				Usage: "list the artifacts of a project",
				Flags: []cli.Flag{projectFlag},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *persistence.Store) error {
						artifacts, err := store.ListArtifacts(ctx, c.String("project"))
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, artifacts)
					})
				},
			},
			{
				Name:  "history",
				Usage: "print every saved version of an artifact",
				Flags: []cli.Flag{&cli.StringFlag{Name: "artifact", Aliases: []string{"a"}, Usage: "artifact id", Required: true}},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *persistence.Store) error {
						versions, err := store.ArtifactHistory(ctx, c.String("artifact"))
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, versions)
					})
				},
			},
		},
	}
}

func withStore(c *cli.Context, fn func(context.Context, *persistence.Store) error) error {
	path := c.String("sqlite")
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path = cfg.SQLitePath
	}
	if path == "" {
		return errors.New("no database: pass --sqlite or set sqlite_path")
	}
	store, err := persistence.Open(path, persistence.Options{})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(c.Context, store)
}
