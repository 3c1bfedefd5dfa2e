package engine

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
	"github.com/elys-network/epochvault/internal/utils"
)

// Reasons a deployment batch ran without moving capital.
const (
	SkipPaused       = "paused"
	SkipQueuePending = "withdrawals_pending"
)

// DeployResult reports one deployment batch.
type DeployResult struct {
	// FromIdle is custody capital pushed into fast slots and the pooled tier.
	FromIdle sdkmath.Int `json:"fromIdle"`
	// ToLocked is pooled-tier excess routed into locked slots.
	ToLocked sdkmath.Int `json:"toLocked"`
	// Skipped names why nothing ran; empty when the batch ran.
	Skipped string `json:"skipped,omitempty"`
}

// Total is everything this batch moved.
func (r DeployResult) Total() sdkmath.Int {
	return r.FromIdle.Add(r.ToLocked)
}

// DeployBatch moves idle capital toward the target weights. Only the
// operator or admin may call it, and not more often than the deploy
// interval; a too-early call is rejected before any side effect.
//
// Capital reaches locked slots through the external pooled tier, whose
// balance only reflects inbound transfers on a later call. The first batch
// after a deposit therefore funds the pooled tier, and a later batch, once
// the pooled balance has caught up, sweeps the excess into locked slots.
// Full locked allocation can take several batches.
func (v *Vault) DeployBatch(ctx context.Context, caller sdk.AccAddress) (DeployResult, error) {
	res := DeployResult{FromIdle: sdkmath.ZeroInt(), ToLocked: sdkmath.ZeroInt()}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isOperator(caller) {
		return res, fmt.Errorf("%w: %s may not deploy", ErrUnauthorized, caller)
	}
	now := v.now()
	if v.deployed && v.params.DeployInterval > 0 {
		next := v.lastDeploy.Add(v.params.DeployInterval)
		if now.Before(next) {
			return res, &DeployTooSoonError{NextAllowed: next}
		}
	}

	v.enforceReserve(ctx)

	if v.paused {
		res.Skipped = SkipPaused
		return res, nil
	}
	if v.queue.Len() > 0 {
		res.Skipped = SkipQueuePending
		return res, nil
	}

	v.lastDeploy = now
	v.deployed = true

	snap := v.snapshot(ctx)
	reserve := utils.MulBps(snap.Total, v.params.ReserveTargetBps)
	deployable := snap.Total.Sub(reserve)

	active := v.registry.Active()
	targets := registry.TargetAmounts(active, deployable)

	budget := utils.SubFloorZero(v.bank.Balance(v.roles.Custody), reserve)
	if v.params.DeployBatchCap.IsPositive() {
		budget = utils.MinInt(budget, v.params.DeployBatchCap)
	}

	// current value per slot; unreadable slots are left alone this batch
	current := make([]sdkmath.Int, len(active))
	readable := make([]bool, len(active))
	pooledIdx := -1
	for i, slot := range active {
		if slot.Tier == registry.TierPooled {
			pooledIdx = i
			current[i], readable[i] = v.ledger.TryPooled(ctx)
			continue
		}
		current[i], readable[i] = v.ledger.TryValue(ctx, slot.Target)
	}

	// fast slots are funded directly from custody
	for i, slot := range active {
		if !slot.Tier.Fast() || !readable[i] {
			continue
		}
		amount := utils.MinInt(utils.SubFloorZero(targets[i], current[i]), budget)
		if !amount.IsPositive() {
			continue
		}
		if err := v.pushToTarget(ctx, slot, amount); err != nil {
			v.finishDeploy(ctx, res)
			return res, err
		}
		budget = budget.Sub(amount)
		res.FromIdle = res.FromIdle.Add(amount)
	}

	if pooledIdx >= 0 && readable[pooledIdx] && v.pooled != nil {
		lockedShort := sdkmath.ZeroInt()
		for i, slot := range active {
			if slot.Tier == registry.TierLocked && readable[i] {
				lockedShort = lockedShort.Add(utils.SubFloorZero(targets[i], current[i]))
			}
		}

		pre := current[pooledIdx]
		preFloor := pre
		if preFloor.IsNegative() {
			preFloor = sdkmath.ZeroInt()
		}
		pooledTarget := targets[pooledIdx]

		pushed := utils.MinInt(utils.SubFloorZero(pooledTarget.Add(lockedShort), preFloor), budget)
		if pushed.IsPositive() {
			if err := v.pushToPooled(ctx, pushed); err != nil {
				v.finishDeploy(ctx, res)
				return res, err
			}
			budget = budget.Sub(pushed)
			res.FromIdle = res.FromIdle.Add(pushed)
		}

		// excess is judged on what the pooled tier held before this call plus
		// what this call sent; funds still in flight simply fail to move
		excess := utils.SubFloorZero(pre.Add(pushed), pooledTarget)
		toLocked, err := v.sweepToLocked(ctx, active, targets, current, readable, excess)
		res.ToLocked = toLocked
		if err != nil {
			v.finishDeploy(ctx, res)
			return res, err
		}
	}

	v.finishDeploy(ctx, res)
	return res, nil
}

func (v *Vault) finishDeploy(ctx context.Context, res DeployResult) {
	if !res.Total().IsPositive() {
		return
	}
	ev := v.event(events.KindDeploymentExecuted)
	ev.Assets = res.Total()
	ev.Message = fmt.Sprintf("fromIdle=%s toLocked=%s", res.FromIdle, res.ToLocked)
	v.emit(ctx, ev)

	v.logger.Info().
		Str("fromIdle", res.FromIdle.String()).
		Str("toLocked", res.ToLocked.String()).
		Msg("Deployment batch executed")
}

// sweepToLocked routes up to excess from the pooled tier into locked slots,
// each bounded by its own shortfall. Transfers are best effort; a locked
// target refusing the deposit aborts the batch.
func (v *Vault) sweepToLocked(ctx context.Context, active []registry.Slot, targets, current []sdkmath.Int, readable []bool, excess sdkmath.Int) (sdkmath.Int, error) {
	moved := sdkmath.ZeroInt()
	for i, slot := range active {
		if !excess.IsPositive() {
			break
		}
		if slot.Tier != registry.TierLocked || !readable[i] {
			continue
		}
		amount := utils.MinInt(utils.SubFloorZero(targets[i], current[i]), excess)
		if !amount.IsPositive() {
			continue
		}

		sent, err := v.pooled.Transfer(ctx, slot.Target.Address(), amount)
		if err != nil {
			v.reportWithdrawFailure(ctx, v.pooled.Name(), amount, err)
			continue
		}
		if sent.IsNil() || !sent.IsPositive() {
			continue
		}

		if _, err := guardedDeposit(ctx, slot.Target, sent); err != nil {
			v.recoverFrom(slot, sent)
			return moved, fmt.Errorf("deposit of %s into %s failed: %w", sent, slot.Name, err)
		}
		excess = utils.SubFloorZero(excess, sent)
		moved = moved.Add(sent)
	}
	return moved, nil
}

// pushToTarget funds a target from custody and credits it. On failure the
// amount is brought back to custody before the error is returned.
func (v *Vault) pushToTarget(ctx context.Context, slot registry.Slot, amount sdkmath.Int) error {
	if err := v.bank.Transfer(v.roles.Custody, slot.Target.Address(), amount); err != nil {
		return fmt.Errorf("funding %s: %w", slot.Name, err)
	}
	if _, err := guardedDeposit(ctx, slot.Target, amount); err != nil {
		v.recoverFrom(slot, amount)
		return fmt.Errorf("deposit of %s into %s failed: %w", amount, slot.Name, err)
	}
	return nil
}

func (v *Vault) pushToPooled(ctx context.Context, amount sdkmath.Int) error {
	addr := v.pooled.Address()
	if err := v.bank.Transfer(v.roles.Custody, addr, amount); err != nil {
		return fmt.Errorf("funding %s: %w", v.pooled.Name(), err)
	}
	if err := v.pooled.Deposit(ctx, amount); err != nil {
		if rerr := v.bank.Transfer(addr, v.roles.Custody, amount); rerr != nil {
			v.logger.Error().Err(rerr).Str("pooled", v.pooled.Name()).Msg("CRITICAL: failed to recover undeployed funds")
		}
		return fmt.Errorf("deposit of %s into %s failed: %w", amount, v.pooled.Name(), err)
	}
	return nil
}

func (v *Vault) recoverFrom(slot registry.Slot, amount sdkmath.Int) {
	if err := v.bank.Transfer(slot.Target.Address(), v.roles.Custody, amount); err != nil {
		v.logger.Error().
			Err(err).
			Str("slot", slot.Name).
			Str("amount", amount.String()).
			Msg("CRITICAL: failed to recover undeployed funds")
	}
}

func guardedDeposit(ctx context.Context, t target.Target, amount sdkmath.Int) (units sdkmath.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			units = sdkmath.ZeroInt()
			err = fmt.Errorf("target %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Deposit(ctx, amount)
}

// LastDeploy returns when the last deployment batch ran; false before the
// first.
func (v *Vault) LastDeploy() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastDeploy, v.deployed
}
