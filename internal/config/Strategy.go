package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoStrategies     = errors.New("strategy file declares no strategies")
	ErrInvalidStrategy  = errors.New("invalid strategy declaration")
	ErrUnexpectedLockup = errors.New("lockup is only valid for locked strategies")
	ErrInvalidBalance   = errors.New("invalid seed balance")
)

// StrategySpec declares one allocation slot and the simulated target behind it.
type StrategySpec struct {
	Name      string        `yaml:"name"`
	Tier      string        `yaml:"tier"`
	WeightBps uint32        `yaml:"weightBps"`
	Active    *bool         `yaml:"active"`
	Lockup    time.Duration `yaml:"lockup"`
}

// IsActive defaults to true when the field is omitted.
func (s StrategySpec) IsActive() bool {
	return s.Active == nil || *s.Active
}

// BalanceSpec funds a simulated account at startup.
type BalanceSpec struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// Resolve parses the address and amount.
func (b BalanceSpec) Resolve() (sdk.AccAddress, sdkmath.Int, error) {
	addr, err := sdk.AccAddressFromBech32(b.Address)
	if err != nil {
		return nil, sdkmath.Int{}, fmt.Errorf("%w: %q: %w", ErrInvalidBalance, b.Address, err)
	}
	amount, err := utils.ParseAmount(b.Amount)
	if err != nil {
		return nil, sdkmath.Int{}, fmt.Errorf("%w: %s: %w", ErrInvalidBalance, b.Address, err)
	}
	return addr, amount, nil
}

// StrategyFile is the YAML document read from STRATEGY_FILE.
type StrategyFile struct {
	Strategies []StrategySpec `yaml:"strategies"`
	Balances   []BalanceSpec  `yaml:"balances"`
}

// LoadStrategies reads and checks a strategy file. Weight sums are checked
// later, when the registry is built.
func LoadStrategies(path string) (*StrategyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file %s: %w", path, err)
	}
	return ParseStrategies(raw)
}

// ParseStrategies decodes a strategy document.
func ParseStrategies(raw []byte) (*StrategyFile, error) {
	var file StrategyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}
	if len(file.Strategies) == 0 {
		return nil, ErrNoStrategies
	}
	for i, s := range file.Strategies {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", ErrInvalidStrategy, i)
		}
		tier, err := registry.ParseTier(s.Tier)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStrategy, s.Name, err)
		}
		if s.Lockup < 0 {
			return nil, fmt.Errorf("%w: %s: negative lockup", ErrInvalidStrategy, s.Name)
		}
		if s.Lockup > 0 && tier != registry.TierLocked {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedLockup, s.Name)
		}
	}
	for _, b := range file.Balances {
		if _, _, err := b.Resolve(); err != nil {
			return nil, err
		}
	}
	return &file, nil
}
