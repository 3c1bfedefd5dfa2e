package main

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/config"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
)

// simulation holds the in-process collaborators the vault runs against in
// simulation mode.
type simulation struct {
	bank   *bank.Memory
	slots  []registry.Slot
	pooled *target.SimPooled
}

// buildSimulation creates a simulated target for every declared strategy and
// funds the seed balances. Targets return capital to custody.
func buildSimulation(file *config.StrategyFile, custody sdk.AccAddress, clock func() time.Time) (*simulation, error) {
	sim := &simulation{bank: bank.NewMemory()}

	for _, spec := range file.Strategies {
		tier, err := registry.ParseTier(spec.Tier)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", spec.Name, err)
		}
		slot := registry.Slot{Name: spec.Name, WeightBps: spec.WeightBps, Tier: tier, Active: spec.IsActive()}

		switch tier {
		case registry.TierInstant:
			slot.Target = target.NewInstant(spec.Name, sim.bank, custody)
		case registry.TierSynchronous:
			slot.Target = target.NewSyncVault(spec.Name, sim.bank, custody)
		case registry.TierLocked:
			slot.Target = target.NewLocked(spec.Name, sim.bank, custody, spec.Lockup, clock)
		case registry.TierPooled:
			if sim.pooled != nil {
				return nil, fmt.Errorf("strategy %s: %w", spec.Name, registry.ErrMultiplePooled)
			}
			sim.pooled = target.NewSimPooled(spec.Name, sim.bank, custody)
		}
		sim.slots = append(sim.slots, slot)
	}

	for _, b := range file.Balances {
		addr, amount, err := b.Resolve()
		if err != nil {
			return nil, err
		}
		if err := sim.bank.Mint(addr, amount); err != nil {
			return nil, fmt.Errorf("failed to fund %s: %w", addr, err)
		}
		log.Info().Str("address", addr.String()).Str("amount", amount.String()).Msg("Seeded simulated balance")
	}

	return sim, nil
}

// pooledAccount returns the pooled account as the engine's interface, nil
// when no pooled strategy is declared.
func (s *simulation) pooledAccount() target.PooledAccount {
	if s.pooled == nil {
		return nil
	}
	return s.pooled
}

// advance lands in-flight pooled transfers, standing in for the external
// account updating between keeper cycles.
func (s *simulation) advance(context.Context) {
	if s.pooled != nil {
		s.pooled.Sync()
	}
}
