package engine

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/utils"
)

// EnforceReserve runs one pass of the reserve control loop.
func (v *Vault) EnforceReserve(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enforceReserve(ctx)
}

// enforceReserve pauses deployment and recalls capital when withdrawable
// liquidity is below the floor, and lifts the pause once it climbs back
// above the ceiling. Must be called with mu held.
func (v *Vault) enforceReserve(ctx context.Context) {
	snap := v.snapshot(ctx)
	if snap.Total.IsZero() {
		return
	}

	floor := utils.MulBps(snap.Total, v.params.ReserveFloorBps)
	ceiling := utils.MulBps(snap.Total, v.params.ReserveCeilBps)

	switch {
	case snap.Withdrawable.LT(floor):
		v.setPaused(ctx, true)
		deficit := floor.Sub(snap.Withdrawable)

		recalled := v.recallLocked(ctx, deficit)
		if rest := utils.SubFloorZero(deficit, recalled); rest.IsPositive() {
			recalled = recalled.Add(v.recallPooled(ctx, rest))
		}

		if recalled.IsPositive() {
			ev := v.event(events.KindReserveRecall)
			ev.Assets = recalled
			ev.Message = "deficit=" + deficit.String()
			v.emit(ctx, ev)
		}

		v.logger.Warn().
			Str("withdrawable", snap.Withdrawable.String()).
			Str("floor", floor.String()).
			Str("deficit", deficit.String()).
			Str("recalled", recalled.String()).
			Msg("Withdrawable liquidity below reserve floor")

	case snap.Withdrawable.GT(ceiling) && v.paused:
		v.setPaused(ctx, false)
	}
}

func (v *Vault) setPaused(ctx context.Context, paused bool) {
	if v.paused == paused {
		return
	}
	v.paused = paused

	kind := events.KindDeploymentResumed
	if paused {
		kind = events.KindDeploymentPaused
	}
	v.emit(ctx, v.event(kind))
	v.logger.Info().Bool("paused", paused).Msg("Deployment pause toggled")
}

// recallLocked withdraws up to want from unlocked locked-tier slots, best
// effort. Locked or failing slots contribute zero.
func (v *Vault) recallLocked(ctx context.Context, want sdkmath.Int) sdkmath.Int {
	recalled := sdkmath.ZeroInt()
	for _, slot := range v.registry.ByTier(registry.TierLocked) {
		remaining := utils.SubFloorZero(want, recalled)
		if !remaining.IsPositive() {
			break
		}
		capacity, ok := v.ledger.TryMax(ctx, slot.Target)
		if !ok || !capacity.IsPositive() {
			continue
		}
		amount := utils.MinInt(remaining, capacity)
		got, err := guardedWithdraw(ctx, slot, amount)
		if err != nil {
			v.reportWithdrawFailure(ctx, slot.Name, amount, err)
			continue
		}
		recalled = recalled.Add(got)
	}
	return recalled
}

// recallPooled asks the external pooled account to send up to want back to
// custody. Whatever it moves counts; an error counts as zero.
func (v *Vault) recallPooled(ctx context.Context, want sdkmath.Int) sdkmath.Int {
	if v.pooled == nil {
		return sdkmath.ZeroInt()
	}
	moved, err := v.pooled.Withdraw(ctx, want)
	if err != nil {
		v.reportWithdrawFailure(ctx, v.pooled.Name(), want, err)
		return sdkmath.ZeroInt()
	}
	if moved.IsNil() {
		return sdkmath.ZeroInt()
	}
	return moved
}

// Paused reports whether deployment is paused by the reserve loop.
func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}
