package main

import (
	"errors"
	"fmt"

	"portfolio-chat/internal/config"
	"portfolio-chat/internal/logger"
	"portfolio-chat/internal/repository/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the conversation store schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(func(p *postgres.PostgresDB) error { return p.RunMigrations() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(func(p *postgres.PostgresDB) error { return p.RollbackMigrations() })
			},
		},
	)
	return cmd
}

func runMigrate(step func(*postgres.PostgresDB) error) error {
	appConfig, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !appConfig.Store.Enabled() {
		return errors.New("STORE_URL is not set")
	}

	p, err := postgres.Open(appConfig.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer p.Close()

	if err := step(p); err != nil {
		logger.Log.WithError(err).Error("Migration failed")
		return err
	}
	logger.Log.Info("Migrations complete")
	return nil
}
