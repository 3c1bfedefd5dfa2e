package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/epochvault/internal/config"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/state"
)

func newResetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-db",
		Short: "Drop every vault table and recreate the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = logger.Initialize(os.Getenv("LOG_LEVEL"), "")
			log.Info().Msg("Starting database reset...")

			dbCfg, err := config.LoadDatabaseConfig()
			if err != nil {
				return err
			}
			if dbCfg.Driver == state.DriverPostgres && dbCfg.DSN == "" {
				if dbCfg.User == "" {
					return fmt.Errorf("DB_USER environment variable not set")
				}
				if dbCfg.DBName == "" {
					return fmt.Errorf("DB_NAME environment variable not set")
				}
			}

			log.Info().
				Str("driver", dbCfg.Driver).
				Str("host", dbCfg.Host).
				Int("port", dbCfg.Port).
				Str("user", dbCfg.User).
				Str("dbname", dbCfg.DBName).
				Msg("Connecting to database")

			store, err := state.Open(dbCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize database connection: %w", err)
			}
			defer store.Close()

			log.Info().Msg("Connected to database. Dropping and recreating all tables...")
			if err := store.ResetSchema(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset schema: %w", err)
			}

			log.Info().Msg("Database reset complete!")
			return nil
		},
	}
}
