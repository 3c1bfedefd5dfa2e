package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/state"
	"github.com/elys-network/epochvault/internal/utils"
)

// ModeSimulation runs the vault against in-process simulated targets. It is
// the only mode the daemon accepts.
const ModeSimulation = "simulation"

// Error definitions for zero-tolerance error handling
var (
	ErrUnsupportedMode = errors.New("VAULT_MODE must be set to 'simulation'")
	ErrMissingEnv      = errors.New("required environment variable not set")
	ErrInvalidEnv      = errors.New("invalid environment variable")
)

// Config holds all application configuration loaded from the environment.
type Config struct {
	LogLevel string
	// LogFile, when set, receives a JSON copy of the console log.
	LogFile  string
	Mode     string

	// Params seeds the vault when no stored parameter set is active.
	Params engine.Params
	Roles  engine.Roles

	// StrategyFile is the YAML file declaring the allocation slots.
	StrategyFile string
	// KeeperSchedule is a cron spec; empty uses the keeper default.
	KeeperSchedule string
	// AssetDecimals scales metric amounts to whole units.
	AssetDecimals int

	Database       state.DBConfig
	WebPort        string
	GRPCHealthPort string
}

// Load reads configuration from environment variables. Role addresses and
// the mode are required; vault parameters fall back to DefaultParams.
func Load() (*Config, error) {
	log.Info().Msg("Loading application configuration from environment variables...")

	cfg := &Config{
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:        getEnvOrDefault("LOG_FILE", ""),
		StrategyFile:   getEnvOrDefault("STRATEGY_FILE", "strategies.yaml"),
		KeeperSchedule: getEnvOrDefault("KEEPER_SCHEDULE", ""),
	}

	var err error
	cfg.Mode, err = getEnv("VAULT_MODE")
	if err != nil {
		return nil, err
	}
	if cfg.Mode != ModeSimulation {
		return nil, fmt.Errorf("%w, got %q", ErrUnsupportedMode, cfg.Mode)
	}

	if cfg.AssetDecimals, err = getEnvAsInt("ASSET_DECIMALS", 6); err != nil {
		return nil, err
	}
	if cfg.Params, err = loadParams(DefaultParams()); err != nil {
		return nil, err
	}
	if cfg.Roles, err = loadRoles(); err != nil {
		return nil, err
	}
	if err := loadEndpointConfig(cfg); err != nil {
		return nil, err
	}

	log.Debug().
		Str("mode", cfg.Mode).
		Str("strategyFile", cfg.StrategyFile).
		Str("admin", cfg.Roles.Admin.String()).
		Str("operator", cfg.Roles.Operator.String()).
		Dur("epochLength", cfg.Params.EpochLength).
		Msg("Configuration loaded successfully.")

	return cfg, nil
}

func loadParams(p engine.Params) (engine.Params, error) {
	var err error
	if p.EpochLength, err = getEnvAsDuration("EPOCH_LENGTH", p.EpochLength); err != nil {
		return p, err
	}
	if p.DepositFeeBps, err = getEnvAsBps("DEPOSIT_FEE_BPS", p.DepositFeeBps); err != nil {
		return p, err
	}
	if p.WithdrawFeeBps, err = getEnvAsBps("WITHDRAW_FEE_BPS", p.WithdrawFeeBps); err != nil {
		return p, err
	}
	if p.MaxFeeBps, err = getEnvAsBps("MAX_FEE_BPS", p.MaxFeeBps); err != nil {
		return p, err
	}
	if p.MinDeposit, err = getEnvAsAmount("MIN_DEPOSIT", p.MinDeposit); err != nil {
		return p, err
	}
	if p.ReserveFloorBps, err = getEnvAsBps("RESERVE_FLOOR_BPS", p.ReserveFloorBps); err != nil {
		return p, err
	}
	if p.ReserveTargetBps, err = getEnvAsBps("RESERVE_TARGET_BPS", p.ReserveTargetBps); err != nil {
		return p, err
	}
	if p.ReserveCeilBps, err = getEnvAsBps("RESERVE_CEIL_BPS", p.ReserveCeilBps); err != nil {
		return p, err
	}
	if p.DeployInterval, err = getEnvAsDuration("DEPLOY_INTERVAL", p.DeployInterval); err != nil {
		return p, err
	}
	if p.DeployBatchCap, err = getEnvAsAmount("DEPLOY_BATCH_CAP", p.DeployBatchCap); err != nil {
		return p, err
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("vault parameters from environment are invalid: %w", err)
	}
	return p, nil
}

func loadRoles() (engine.Roles, error) {
	var (
		roles engine.Roles
		err   error
	)
	if roles.Admin, err = getEnvAsAddress("ADMIN_ADDRESS"); err != nil {
		return roles, err
	}
	if roles.Operator, err = getEnvAsAddress("OPERATOR_ADDRESS"); err != nil {
		return roles, err
	}
	if roles.Treasury, err = getEnvAsAddress("TREASURY_ADDRESS"); err != nil {
		return roles, err
	}
	if roles.Custody, err = getEnvAsAddress("CUSTODY_ADDRESS"); err != nil {
		return roles, err
	}
	return roles, nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingEnv, key)
}

// getEnvOrDefault retrieves a string environment variable, falling back to def.
func getEnvOrDefault(key, def string) string {
	if value, err := getEnv(key); err == nil {
		return value
	}
	return def
}

// getEnvAsInt retrieves an optional int environment variable.
func getEnvAsInt(key string, def int) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return def, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a valid int, got: %s", ErrInvalidEnv, key, valueStr)
	}
	return value, nil
}

// getEnvAsBps retrieves an optional basis-point environment variable.
func getEnvAsBps(key string, def uint32) (uint32, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return def, nil
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a valid uint32, got: %s", ErrInvalidEnv, key, valueStr)
	}
	if err := utils.ValidateBps(uint32(value)); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidEnv, key, err)
	}
	return uint32(value), nil
}

// getEnvAsDuration retrieves an optional Go duration environment variable.
func getEnvAsDuration(key string, def time.Duration) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return def, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a valid duration, got: %s", ErrInvalidEnv, key, valueStr)
	}
	return value, nil
}

// getEnvAsAmount retrieves an optional non-negative integer amount.
func getEnvAsAmount(key string, def sdkmath.Int) (sdkmath.Int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return def, nil
	}
	value, err := utils.ParseAmount(valueStr)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %s: %w", ErrInvalidEnv, key, err)
	}
	return value, nil
}

// getEnvAsAddress retrieves a required bech32 account address.
func getEnvAsAddress(key string) (sdk.AccAddress, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return nil, err
	}
	addr, err := sdk.AccAddressFromBech32(valueStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a bech32 address: %w", ErrInvalidEnv, key, err)
	}
	return addr, nil
}
