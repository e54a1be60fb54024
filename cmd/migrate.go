package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexsmy/bot-29-sub000/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations (database/migrations)",
	RunE:  runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.StoreDriver != "postgres" {
		return fmt.Errorf("migrate: STORE_DRIVER=%s has no schema", cfg.StoreDriver)
	}
	return database.MigrateUp(cfg.DatabaseURL(), log)
}
