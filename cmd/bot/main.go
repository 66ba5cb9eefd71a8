// cmd/bot/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"paygate-bot/config"
	"paygate-bot/internal/db"
	"paygate-bot/pkg/logger"
)

var Version = "dev"

var (
	cfg *config.Config
	l   *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:     "bot",
	Short:   "Payment-gated access bot for VK and Telegram",
	Version: Version,
	// Every subcommand needs config and a logger.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Log.Development {
			l = logger.NewDevelopment(cfg.Log.Level)
		} else {
			l = logger.New(cfg.Log.Level)
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(infoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore connects to the configured backend. Postgres gets a few
// retries because it often comes up after the bot in compose setups.
func openStore(cfg *config.Config) (db.Store, error) {
	if cfg.DB.Driver == config.DriverSQLite {
		return db.NewSQLiteDB(cfg.DB.Path)
	}

	if cfg.DB.AutoMigrate {
		if err := db.MigratePostgres(cfg.DB); err != nil {
			return nil, err
		}
	}

	var (
		database *db.PostgresDB
		err      error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg.DB)
		if err == nil {
			return database, nil
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}
