package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/chuan-gyld/ai-firm/coreengine/config"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
)

type appIO struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func buildApp(stdio appIO) *cli.App {
	return &cli.App{
		Name:      "firm",
		Usage:     "run a team of role agents on a product idea",
		Version:   version,
		Reader:    stdio.in,
		Writer:    stdio.out,
		ErrWriter: stdio.errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"FIRM_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "log one JSON object per line",
			},
		},
		Commands: []*cli.Command{
			runCommand(stdio),
			ctlCommand(),
			configCommand(),
			inspectCommand(),
		},
	}
}

// loadConfig reads the config file named by --config, or the defaults,
// then applies global flag overrides.
func loadConfig(c *cli.Context) (*config.RuntimeConfig, error) {
	cfg := config.DefaultRuntimeConfig()
	if path := strings.TrimSpace(c.String("config")); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-json") {
		cfg.LogJSON = c.Bool("log-json")
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg, writing to errOut.
func newLogger(cfg *config.RuntimeConfig, errOut io.Writer) *observability.Logger {
	if errOut == nil {
		errOut = os.Stderr
	}
	return observability.NewLogger(observability.InitLogger("firm", cfg.LogLevel, cfg.LogJSON, errOut))
}

// =============================================================================
// config
// =============================================================================

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the effective configuration as YAML",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					data, err := cfg.Marshal()
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(data)
					return err
				},
			},
			{
				Name:  "validate",
				Usage: "check the configuration and exit",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "config ok")
					return nil
				},
			},
		},
	}
}
