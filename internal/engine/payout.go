package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/utils"
)

// payoutPlan is the contiguous FIFO prefix selected for payment, with
// custody already holding its total.
type payoutPlan struct {
	requests []queue.WithdrawalRequest
	total    sdkmath.Int
}

func (p payoutPlan) empty() bool { return len(p.requests) == 0 }

// PayoutResult summarises one payout pass.
type PayoutResult struct {
	Paid      int         `json:"paid"`
	Assets    sdkmath.Int `json:"assets"`
	Fees      sdkmath.Int `json:"fees"`
	Remaining int         `json:"remaining"`
}

// planPayout selects the payable FIFO prefix among requests queued no later
// than maxEpoch and materialises its total in custody: idle first, then the
// fast slots. Strict FIFO: a head request larger than the available
// liquidity blocks everything behind it, even smaller requests that would
// fit on their own.
//
// When a fast slot fails during the pull, the prefix is re-selected against
// what custody actually holds, so a broken target shrinks the payout rather
// than failing it. Custody still short after every slot reported success
// means the accounting diverged, and that is returned as
// ErrLiquidityInvariant.
func (v *Vault) planPayout(ctx context.Context, maxEpoch uint64) (payoutPlan, error) {
	plan := payoutPlan{total: sdkmath.ZeroInt()}

	available := v.ledger.Withdrawable(ctx, v.registry)
	if !available.IsPositive() {
		return plan, nil
	}

	plan.requests, plan.total = v.queue.Eligible(available, maxEpoch)
	if plan.empty() {
		return plan, nil
	}

	idle := v.bank.Balance(v.roles.Custody)
	if idle.LT(plan.total) {
		_, failed := v.pullFromFast(ctx, plan.total.Sub(idle))
		idle = v.bank.Balance(v.roles.Custody)
		if idle.LT(plan.total) && failed > 0 {
			plan.requests, plan.total = v.queue.Eligible(idle, maxEpoch)
			if plan.empty() {
				return plan, nil
			}
		}
	}
	if idle.LT(plan.total) {
		v.logger.Error().
			Str("owed", plan.total.String()).
			Str("custody", idle.String()).
			Str("available", available.String()).
			Int("requests", len(plan.requests)).
			Msg("CRITICAL: custody short after pulling from fast slots")
		return payoutPlan{}, fmt.Errorf("%w: owed %s, custody %s", ErrLiquidityInvariant, plan.total, idle)
	}

	return plan, nil
}

// executePayout pays every planned request in order, routes withdraw fees to
// the treasury and advances the queue head.
func (v *Vault) executePayout(ctx context.Context, plan payoutPlan) (PayoutResult, error) {
	res := PayoutResult{Assets: sdkmath.ZeroInt(), Fees: sdkmath.ZeroInt()}
	if plan.empty() {
		res.Remaining = v.queue.Len()
		return res, nil
	}

	var payErr error
	for _, req := range plan.requests {
		fee := utils.MulBps(req.Assets, v.params.WithdrawFeeBps)
		net := req.Assets.Sub(fee)

		if err := v.bank.Transfer(v.roles.Custody, req.Receiver, net); err != nil {
			payErr = fmt.Errorf("%w: paying request %d: %w", ErrLiquidityInvariant, req.ID, err)
			break
		}
		if fee.IsPositive() {
			if err := v.bank.Transfer(v.roles.Custody, v.roles.Treasury, fee); err != nil {
				payErr = fmt.Errorf("%w: routing fee of request %d: %w", ErrLiquidityInvariant, req.ID, err)
				res.Paid++
				res.Assets = res.Assets.Add(req.Assets)
				break
			}
		}

		ev := v.event(events.KindWithdrawalPaid)
		ev.Account = req.Owner.String()
		ev.Receiver = req.Receiver.String()
		ev.RequestID = req.ID
		ev.Assets = net
		ev.Shares = req.Shares
		ev.Fee = fee
		v.emit(ctx, ev)

		res.Paid++
		res.Assets = res.Assets.Add(req.Assets)
		res.Fees = res.Fees.Add(fee)
	}

	if _, err := v.queue.Consume(res.Paid); err != nil {
		return res, err
	}
	if res.Fees.IsPositive() {
		v.emitFee(ctx, res.Fees, "withdraw")
	}
	res.Remaining = v.queue.Len()

	if payErr != nil {
		v.logger.Error().Err(payErr).Int("paid", res.Paid).Msg("CRITICAL: withdrawal payout interrupted")
		return res, payErr
	}
	return res, nil
}

// ProcessQueuedWithdrawals enforces the reserve, then pays the FIFO prefix
// among requests from already-ended epochs. Repeating it without new
// liquidity changes nothing.
func (v *Vault) ProcessQueuedWithdrawals(ctx context.Context) (PayoutResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.enforceReserve(ctx)

	current := v.currentEpoch()
	if current == 0 {
		return PayoutResult{Assets: sdkmath.ZeroInt(), Fees: sdkmath.ZeroInt(), Remaining: v.queue.Len()}, nil
	}

	plan, err := v.planPayout(ctx, current-1)
	if err != nil {
		return PayoutResult{}, err
	}
	res, err := v.executePayout(ctx, plan)
	if err != nil {
		return res, err
	}

	if res.Paid > 0 {
		v.logger.Info().
			Int("paid", res.Paid).
			Str("assets", res.Assets.String()).
			Int("remaining", res.Remaining).
			Msg("Processed queued withdrawals")
	}
	return res, nil
}
