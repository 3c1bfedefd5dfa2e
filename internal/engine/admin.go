package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/registry"
)

// Every setter below is admin-only and validates before it mutates.

// SetFees sets the deposit and withdrawal fees, each capped by MaxFeeBps.
func (v *Vault) SetFees(caller sdk.AccAddress, depositBps, withdrawBps uint32) error {
	return v.updateParams(caller, "fees", func(p *Params) {
		p.DepositFeeBps = depositBps
		p.WithdrawFeeBps = withdrawBps
	})
}

// SetEpochLength changes the epoch length. The running epoch keeps its
// index and start time and takes the new length, so settled epochs are never
// revisited.
func (v *Vault) SetEpochLength(caller sdk.AccAddress, length time.Duration) error {
	return v.updateParams(caller, "epoch_length", func(p *Params) {
		p.EpochLength = length
	})
}

// SetReserve sets the idle reserve band in bps of total value.
func (v *Vault) SetReserve(caller sdk.AccAddress, floorBps, targetBps, ceilBps uint32) error {
	return v.updateParams(caller, "reserve", func(p *Params) {
		p.ReserveFloorBps = floorBps
		p.ReserveTargetBps = targetBps
		p.ReserveCeilBps = ceilBps
	})
}

// SetDeployCadence sets the minimum spacing between deployment batches and
// the per-batch cap. A zero cap removes the cap.
func (v *Vault) SetDeployCadence(caller sdk.AccAddress, interval time.Duration, batchCap sdkmath.Int) error {
	return v.updateParams(caller, "deploy_cadence", func(p *Params) {
		p.DeployInterval = interval
		p.DeployBatchCap = batchCap
	})
}

// SetMinDeposit sets the smallest gross deposit accepted.
func (v *Vault) SetMinDeposit(caller sdk.AccAddress, minimum sdkmath.Int) error {
	return v.updateParams(caller, "min_deposit", func(p *Params) {
		p.MinDeposit = minimum
	})
}

// UpdateParams replaces the whole parameter set in one step.
func (v *Vault) UpdateParams(caller sdk.AccAddress, p Params) error {
	return v.updateParams(caller, "params", func(cur *Params) { *cur = p })
}

func (v *Vault) updateParams(caller sdk.AccAddress, what string, apply func(*Params)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	next := v.params
	apply(&next)
	if next.MinDeposit.IsNil() {
		next.MinDeposit = sdkmath.ZeroInt()
	}
	if next.DeployBatchCap.IsNil() {
		next.DeployBatchCap = sdkmath.ZeroInt()
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.EpochLength != v.params.EpochLength {
		v.reanchorEpochs()
	}
	v.params = next
	v.configUpdated(what)
	return nil
}

// SetOperator rotates the address allowed to run deployment batches.
func (v *Vault) SetOperator(caller, operator sdk.AccAddress) error {
	return v.updateRoles(caller, "operator", operator, func(r *Roles) { r.Operator = operator })
}

// SetTreasury rotates the fee recipient.
func (v *Vault) SetTreasury(caller, treasury sdk.AccAddress) error {
	return v.updateRoles(caller, "treasury", treasury, func(r *Roles) { r.Treasury = treasury })
}

func (v *Vault) updateRoles(caller sdk.AccAddress, what string, addr sdk.AccAddress, apply func(*Roles)) error {
	if addr.Empty() {
		return ErrEmptyAddress
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	apply(&v.roles)
	v.configUpdated(what)
	return nil
}

func (v *Vault) configUpdated(what string) {
	ev := v.event(events.KindConfigUpdated)
	ev.Message = what
	v.emit(context.Background(), ev)
	v.logger.Info().Str("setting", what).Msg("Vault configuration updated")
}

// ReplaceStrategies swaps in a complete slot set. The whole batch is
// rejected when any slot it removes or deactivates still holds value.
func (v *Vault) ReplaceStrategies(ctx context.Context, caller sdk.AccAddress, slots []registry.Slot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	for _, s := range slots {
		if s.Tier == registry.TierPooled && s.Active && v.pooled == nil {
			return ErrPooledAccountRequired
		}
	}

	removed, err := v.registry.Replace(ctx, slots, v.ledger.SlotValue)
	if err != nil {
		return fmt.Errorf("strategy replacement rejected: %w", err)
	}

	ev := v.event(events.KindStrategiesUpdated)
	ev.Message = fmt.Sprintf("active=%d removed=[%s]", len(v.registry.Active()), strings.Join(removed, ","))
	v.emit(ctx, ev)

	v.logger.Info().
		Int("slots", len(slots)).
		Strs("removed", removed).
		Msg("Strategy registry replaced")
	return nil
}
