package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexsmy/bot-29-sub000/internal/database"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run migrations and seeds (migrate up, then database/seeds/*.sql)",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.StoreDriver != "postgres" {
		return fmt.Errorf("seed: STORE_DRIVER=%s has no schema", cfg.StoreDriver)
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := database.RunSeeds(db, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
