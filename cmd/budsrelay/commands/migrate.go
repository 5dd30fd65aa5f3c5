package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/pkg/config"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the relay database.

This command applies pending migrations to the configured database
(SQLite or PostgreSQL). It is required after upgrading the relay when
schema changes have been made.

Examples:
  # Run migrations with default config
  budsrelay migrate

  # Run migrations with custom config
  budsrelay migrate --config /etc/budsrelay/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Creating the store triggers auto-migration
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked
	if err := st.Ping(context.Background()); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
