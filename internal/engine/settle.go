package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/events"
)

// Settlement summarises one settled epoch.
type Settlement struct {
	Epoch              uint64      `json:"epoch"`
	SupplyBefore       sdkmath.Int `json:"supplyBefore"`
	ValueBefore        sdkmath.Int `json:"valueBefore"`
	DepositAssets      sdkmath.Int `json:"depositAssets"`
	SharesMinted       sdkmath.Int `json:"sharesMinted"`
	WithdrawAssetsPaid sdkmath.Int `json:"withdrawAssetsPaid"`
	WithdrawalsPaid    int         `json:"withdrawalsPaid"`
	WithdrawFees       sdkmath.Int `json:"withdrawFees"`
}

type mintOrder struct {
	receiver sdk.AccAddress
	assets   sdkmath.Int
	shares   sdkmath.Int
}

// Settle prices an ended epoch's deposits, mints their shares and pays the
// FIFO prefix of withdrawals queued up to that epoch. The epoch is latched as
// settled only when both passes succeed; a second call is rejected with no
// side effects.
func (v *Vault) Settle(ctx context.Context, epoch uint64) (Settlement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.settled[epoch] {
		return Settlement{}, fmt.Errorf("%w: epoch %d", ErrEpochAlreadySettled, epoch)
	}
	current := v.currentEpoch()
	if epoch >= current {
		return Settlement{}, fmt.Errorf("%w: epoch %d, current %d", ErrEpochNotEnded, epoch, current)
	}

	snap := v.snapshot(ctx)
	supplyBefore := v.totalShares
	valueBefore := snap.Backing

	// price every entry against the one snapshot before anything moves
	entries := v.queue.Deposits(epoch)
	orders := make([]mintOrder, 0, len(entries))
	depositAssets := sdkmath.ZeroInt()
	for _, e := range entries {
		depositAssets = depositAssets.Add(e.NetAssets)
		orders = append(orders, mintOrder{
			receiver: e.Receiver,
			assets:   e.NetAssets,
			shares:   sharesFor(e.NetAssets, supplyBefore, valueBefore),
		})
	}

	// minting moves no assets, so the payout can be planned first; a fatal
	// liquidity error then leaves every ledger entry untouched
	plan, err := v.planPayout(ctx, epoch)
	if err != nil {
		return Settlement{}, err
	}

	minted := sdkmath.ZeroInt()
	for _, o := range orders {
		if !o.shares.IsPositive() {
			v.logger.Warn().
				Str("receiver", o.receiver.String()).
				Str("assets", o.assets.String()).
				Uint64("epoch", epoch).
				Msg("Deposit priced to zero shares, skipping mint")
			continue
		}
		v.mint(o.receiver, o.shares)
		minted = minted.Add(o.shares)

		ev := v.event(events.KindDepositSettled)
		ev.Epoch = epoch
		ev.Receiver = o.receiver.String()
		ev.Assets = o.assets
		ev.Shares = o.shares
		v.emit(ctx, ev)
	}
	v.queue.ClearEpoch(epoch)

	payout, err := v.executePayout(ctx, plan)
	if err != nil {
		return Settlement{}, err
	}

	v.settled[epoch] = true

	s := Settlement{
		Epoch:              epoch,
		SupplyBefore:       supplyBefore,
		ValueBefore:        valueBefore,
		DepositAssets:      depositAssets,
		SharesMinted:       minted,
		WithdrawAssetsPaid: payout.Assets,
		WithdrawalsPaid:    payout.Paid,
		WithdrawFees:       payout.Fees,
	}

	ev := v.event(events.KindEpochSettled)
	ev.Epoch = epoch
	ev.Assets = depositAssets
	ev.Shares = minted
	ev.Fee = payout.Fees
	ev.Message = fmt.Sprintf("withdrawAssetsPaid=%s", payout.Assets)
	v.emit(ctx, ev)

	v.logger.Info().
		Uint64("epoch", epoch).
		Str("depositAssets", depositAssets.String()).
		Str("sharesMinted", minted.String()).
		Str("withdrawAssetsPaid", payout.Assets.String()).
		Int("withdrawalsPaid", payout.Paid).
		Int("withdrawalsRemaining", payout.Remaining).
		Msg("Epoch settled")

	return s, nil
}

// IsSettled reports whether epoch has been settled.
func (v *Vault) IsSettled(epoch uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settled[epoch]
}

// UnsettledEpochs lists ended epochs that still need settling, ascending:
// every ended epoch holding escrowed deposits, plus the epoch that just
// ended. Nothing enforces this order; a caller may settle epochs out of it.
func (v *Vault) UnsettledEpochs() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.currentEpoch()
	var out []uint64
	seen := make(map[uint64]bool)
	for _, epoch := range v.queue.DepositEpochs() {
		if epoch < current && !v.settled[epoch] {
			out = append(out, epoch)
			seen[epoch] = true
		}
	}
	if current > 0 && !v.settled[current-1] && !seen[current-1] {
		out = append(out, current-1)
	}
	return out
}
