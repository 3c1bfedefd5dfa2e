package config

import (
	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/state"
)

// loadEndpointConfig loads listener and database settings from environment
// variables. This function is called by Load() in General.go.
func loadEndpointConfig(cfg *Config) error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	cfg.WebPort = getEnvOrDefault("WEB_PORT", "8080")
	cfg.GRPCHealthPort = getEnvOrDefault("GRPC_HEALTH_PORT", "9090")

	db, err := loadDatabaseConfig()
	if err != nil {
		return err
	}
	cfg.Database = db

	log.Debug().
		Str("webPort", cfg.WebPort).
		Str("grpcHealthPort", cfg.GRPCHealthPort).
		Str("dbDriver", cfg.Database.Driver).
		Str("dbHost", cfg.Database.Host).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// LoadDatabaseConfig reads only the database settings. The reset-db command
// uses it without requiring the rest of the configuration.
func LoadDatabaseConfig() (state.DBConfig, error) {
	return loadDatabaseConfig()
}

func loadDatabaseConfig() (state.DBConfig, error) {
	port, err := getEnvAsInt("DB_PORT", 5432)
	if err != nil {
		return state.DBConfig{}, err
	}
	return state.DBConfig{
		Driver:   getEnvOrDefault("DB_DRIVER", state.DriverPostgres),
		DSN:      getEnvOrDefault("DB_DSN", ""),
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:   getEnvOrDefault("DB_NAME", ""),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}, nil
}
