package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/soochol/stagecond/internal/db"
	"github.com/soochol/stagecond/internal/logging"
)

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the PostgreSQL schema",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url (or DATABASE_URL) is required")
			}
			database, err := db.New(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logging.WithModule("migrate").Info("schema up to date")
			return nil
		},
	}
}
