package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/soochol/stagecond/internal/config"
	"github.com/soochol/stagecond/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:                  "stagecond",
		Usage:                 "Stage condition evaluation and action execution service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Sources: cli.EnvVars("STAGECOND_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newMigrateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and installs the logger.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Resolve(command.String("config"))
	if err != nil {
		return nil, err
	}
	if level := command.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logging.Setup(cfg.Log.Level)
	return cfg, nil
}
