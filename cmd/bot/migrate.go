package main

import (
	"github.com/spf13/cobra"

	"paygate-bot/config"
	"paygate-bot/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded schema migrations to the configured database.

Postgres migrations run over their own connection. SQLite databases are
migrated whenever they are opened, so for them this only creates the file.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DB.Driver == config.DriverSQLite {
		store, err := db.NewSQLiteDB(cfg.DB.Path)
		if err != nil {
			return err
		}
		store.Close()
		l.Infow("SQLite database is up to date", "path", cfg.DB.Path)
		return nil
	}

	if err := db.MigratePostgres(cfg.DB); err != nil {
		return err
	}
	l.Infow("Postgres database is up to date", "host", cfg.DB.Host, "db", cfg.DB.DBName)
	return nil
}
