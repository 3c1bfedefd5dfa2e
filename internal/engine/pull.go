package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
	"github.com/elys-network/epochvault/internal/utils"
)

// pullFromFast recalls up to shortfall from the fast slots into custody. It
// returns what arrived and how many slots fell short of what they were
// asked for. A slot that fails to read, prepare or withdraw contributes
// zero for this round; its failure is reported as an event and never
// reaches the caller.
func (v *Vault) pullFromFast(ctx context.Context, shortfall sdkmath.Int) (sdkmath.Int, int) {
	pulled := sdkmath.ZeroInt()
	remaining := shortfall
	failed := 0

	for _, slot := range v.registry.Fast() {
		if !remaining.IsPositive() {
			break
		}

		capacity, ok := v.ledger.TryMax(ctx, slot.Target)
		if !ok {
			failed++
			continue
		}
		if !capacity.IsPositive() {
			continue
		}
		amount := utils.MinInt(remaining, capacity)

		got, err := guardedWithdraw(ctx, slot, amount)
		if err != nil {
			v.reportWithdrawFailure(ctx, slot.Name, amount, err)
			v.logger.Warn().
				Err(err).
				Str("slot", slot.Name).
				Str("amount", amount.String()).
				Msg("Fast slot contributed nothing to withdrawal pull")
			failed++
			continue
		}
		if got.LT(amount) {
			v.reportWithdrawFailure(ctx, slot.Name, amount.Sub(got), fmt.Errorf("target returned %s of %s requested", got, amount))
			failed++
		}

		pulled = pulled.Add(got)
		remaining = utils.SubFloorZero(remaining, got)
	}

	return pulled, failed
}

// guardedWithdraw asks one target for an exact asset amount. Share-based
// targets get the matching receipt units staged first. A panicking target is
// turned into an error.
func guardedWithdraw(ctx context.Context, slot registry.Slot, amount sdkmath.Int) (got sdkmath.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			got = sdkmath.ZeroInt()
			err = fmt.Errorf("target %s panicked: %v", slot.Name, r)
		}
	}()

	if p, ok := slot.Target.(target.Preparer); ok {
		if _, err := p.PrepareWithdraw(ctx, amount); err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("prepare withdraw: %w", err)
		}
	}
	return target.CheckWithdrawn(slot.Target.Withdraw(ctx, amount))
}
