package main

import (
	"github.com/spf13/cobra"

	"procodus.dev/alertnav/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create or update the users and iot_data tables and their indexes.
Safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	addDBFlags(migrateCmd)
	migrateCmd.PreRunE = bindFlags(dbFlagBindings)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	dbCfg := dbConfig(logger)
	dbCfg.AutoMigrate = false
	db, err := store.NewDB(&dbCfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := store.Migrate(db, logger); err != nil {
		logger.Error("migration failed", "error", err)
		return err
	}
	return nil
}
