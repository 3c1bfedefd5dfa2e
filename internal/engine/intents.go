package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/utils"
)

// DepositReceipt describes an escrowed deposit.
type DepositReceipt struct {
	Epoch     uint64      `json:"epoch"`
	Assets    sdkmath.Int `json:"assets"`
	Fee       sdkmath.Int `json:"fee"`
	NetAssets sdkmath.Int `json:"netAssets"`
}

// RequestDeposit escrows assets from caller for the current epoch. The fee
// goes to the treasury at once; shares are minted when the epoch settles.
func (v *Vault) RequestDeposit(ctx context.Context, caller sdk.AccAddress, assets sdkmath.Int, receiver sdk.AccAddress) (DepositReceipt, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return DepositReceipt{}, ErrZeroAmount
	}
	if caller.Empty() || receiver.Empty() {
		return DepositReceipt{}, ErrEmptyAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if assets.LT(v.params.MinDeposit) {
		return DepositReceipt{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, assets, v.params.MinDeposit)
	}
	if v.registry.Empty() {
		return DepositReceipt{}, ErrNoStrategies
	}

	fee := utils.MulBps(assets, v.params.DepositFeeBps)
	net := assets.Sub(fee)
	if !net.IsPositive() {
		return DepositReceipt{}, fmt.Errorf("%w: nothing left after fee", ErrZeroAmount)
	}
	if bal := v.bank.Balance(caller); bal.LT(assets) {
		return DepositReceipt{}, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientAssets, caller, bal, assets)
	}

	if err := v.bank.Transfer(caller, v.roles.Custody, assets); err != nil {
		return DepositReceipt{}, fmt.Errorf("failed to pull deposit into custody: %w", err)
	}
	if fee.IsPositive() {
		if err := v.bank.Transfer(v.roles.Custody, v.roles.Treasury, fee); err != nil {
			if rerr := v.bank.Transfer(v.roles.Custody, caller, assets); rerr != nil {
				v.logger.Error().Err(rerr).Str("caller", caller.String()).Msg("Failed to return deposit after fee routing failure")
			}
			return DepositReceipt{}, fmt.Errorf("failed to route deposit fee: %w", err)
		}
	}

	epoch := v.currentEpoch()
	entry := queue.DepositEntry{Depositor: caller, Receiver: receiver, NetAssets: net}
	if err := v.queue.AddDeposit(epoch, entry); err != nil {
		return DepositReceipt{}, err
	}

	queued := v.event(events.KindDepositQueued)
	queued.Account = caller.String()
	queued.Receiver = receiver.String()
	queued.Assets = net
	queued.Fee = fee
	v.emit(ctx, queued)

	deposit := v.event(events.KindDeposit)
	deposit.Account = caller.String()
	deposit.Receiver = receiver.String()
	deposit.Assets = assets
	v.emit(ctx, deposit)

	if fee.IsPositive() {
		v.emitFee(ctx, fee, "deposit")
	}

	v.logger.Debug().
		Str("caller", caller.String()).
		Str("receiver", receiver.String()).
		Str("assets", assets.String()).
		Str("fee", fee.String()).
		Uint64("epoch", epoch).
		Msg("Deposit queued")

	return DepositReceipt{Epoch: epoch, Assets: assets, Fee: fee, NetAssets: net}, nil
}

// RequestWithdraw queues a claim for an exact gross asset amount, burning the
// shares that cover it (rounded up).
func (v *Vault) RequestWithdraw(ctx context.Context, caller sdk.AccAddress, assets sdkmath.Int, owner, receiver sdk.AccAddress) (queue.WithdrawalRequest, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return queue.WithdrawalRequest{}, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	shares := sharesForCeil(assets, v.totalShares, v.snapshot(ctx).Backing)
	return v.queueWithdrawal(ctx, caller, owner, receiver, assets, shares)
}

// RequestRedeem queues a claim for shares, priced at the current backing
// value.
func (v *Vault) RequestRedeem(ctx context.Context, caller sdk.AccAddress, shares sdkmath.Int, owner, receiver sdk.AccAddress) (queue.WithdrawalRequest, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return queue.WithdrawalRequest{}, ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	assets := assetsFor(shares, v.totalShares, v.snapshot(ctx).Backing)
	if !assets.IsPositive() {
		return queue.WithdrawalRequest{}, fmt.Errorf("%w: %s shares", ErrZeroAssetsForShares, shares)
	}
	return v.queueWithdrawal(ctx, caller, owner, receiver, assets, shares)
}

// queueWithdrawal burns shares from owner and appends the claim. Must be
// called with mu held.
func (v *Vault) queueWithdrawal(ctx context.Context, caller, owner, receiver sdk.AccAddress, assets, shares sdkmath.Int) (queue.WithdrawalRequest, error) {
	if caller.Empty() || owner.Empty() || receiver.Empty() {
		return queue.WithdrawalRequest{}, ErrEmptyAddress
	}
	if bal := v.shareBalance(owner); bal.LT(shares) {
		return queue.WithdrawalRequest{}, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, owner, bal, shares)
	}
	if err := v.spendAllowance(owner, caller, shares); err != nil {
		return queue.WithdrawalRequest{}, err
	}
	if err := v.burn(owner, shares); err != nil {
		return queue.WithdrawalRequest{}, err
	}

	epoch := v.currentEpoch()
	req, err := v.queue.Enqueue(owner, receiver, assets, shares, epoch)
	if err != nil {
		// restore the burn so the rejection leaves no trace
		v.mint(owner, shares)
		return queue.WithdrawalRequest{}, err
	}

	ev := v.event(events.KindWithdrawalQueued)
	ev.Account = owner.String()
	ev.Receiver = receiver.String()
	ev.RequestID = req.ID
	ev.Assets = assets
	ev.Shares = shares
	ev.Fee = utils.MulBps(assets, v.params.WithdrawFeeBps)
	v.emit(ctx, ev)

	v.logger.Debug().
		Uint64("requestID", req.ID).
		Str("owner", owner.String()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Uint64("epoch", epoch).
		Msg("Withdrawal queued")

	return req, nil
}

func (v *Vault) emitFee(ctx context.Context, fee sdkmath.Int, source string) {
	ev := v.event(events.KindFeesCollected)
	ev.Account = v.roles.Treasury.String()
	ev.Fee = fee
	ev.Message = source
	v.emit(ctx, ev)
}
