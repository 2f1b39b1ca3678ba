package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/grpc"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// ctlCommand talks to a running control service.
func ctlCommand() *cli.Command {
	roleFlag := &cli.StringFlag{Name: "role", Aliases: []string{"r"}, Usage: "target one role instead of all"}
	command := func(kind kernel.CommandKind, usage string, needsText bool) *cli.Command {
		return &cli.Command{
			Name:      string(kind),
			Usage:     usage,
			ArgsUsage: argsUsage(needsText),
			Flags:     []cli.Flag{roleFlag},
			Action: func(c *cli.Context) error {
				cmd, err := buildCommand(kind, c.String("role"), strings.Join(c.Args().Slice(), " "))
				if err != nil {
					return err
				}
				return withClient(c, func(ctx context.Context, client *grpc.Client) error {
					if err := client.SendCommand(ctx, cmd); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s queued\n", kind)
					return nil
				})
			},
		}
	}

	return &cli.Command{
		Name:  "ctl",
		Usage: "control a running firm over gRPC",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "control service address (defaults to grpc_address from config)"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-call timeout"},
		},
		Subcommands: []*cli.Command{
			command(kernel.CommandPause, "pause all roles or one role", false),
			command(kernel.CommandResume, "resume all roles or one role", false),
			command(kernel.CommandInject, "inject operator guidance", true),
			command(kernel.CommandShutdown, "stop all roles or one role", false),
			{
				Name:  "status",
				Usage: "print the dashboard as JSON",
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *grpc.Client) error {
						d, err := client.Dashboard(ctx)
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, d)
					})
				},
			},
			{
				Name:  "activity",
				Usage: "print recent routed envelopes as JSON",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *grpc.Client) error {
						envs, err := client.RecentActivity(ctx, c.Int("limit"))
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, envs)
					})
				},
			},
			{
				Name:  "clarifications",
				Usage: "print questions and milestones waiting for the operator",
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *grpc.Client) error {
						items, err := client.Clarifications(ctx)
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, items)
					})
				},
			},
		},
	}
}

func argsUsage(needsText bool) string {
	if needsText {
		return "TEXT..."
	}
	return ""
}

// buildCommand validates operator input before anything is dialed.
func buildCommand(kind kernel.CommandKind, role, text string) (kernel.Command, error) {
	cmd := kernel.Command{Kind: kind, Text: strings.TrimSpace(text)}
	if role = strings.TrimSpace(role); role != "" {
		r, err := envelope.ParseRole(role)
		if err != nil {
			return kernel.Command{}, err
		}
		cmd.Target = r
	}
	if kind == kernel.CommandInject && cmd.Text == "" {
		return kernel.Command{}, errors.New("inject requires guidance text")
	}
	return cmd, nil
}

func withClient(c *cli.Context, fn func(context.Context, *grpc.Client) error) error {
	addr := c.String("addr")
	if addr == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		addr = cfg.GRPCAddress
	}
	if addr == "" {
		return errors.New("no control address: pass --addr or set grpc_address")
	}

	client, err := grpc.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	return fn(ctx, client)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
