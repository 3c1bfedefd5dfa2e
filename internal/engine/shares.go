package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/utils"
)

// sharesFor prices assets into shares against supply and value, floored.
// The virtual offset on both sides keeps the first depositor's price sane.
func sharesFor(assets, supply, value sdkmath.Int) sdkmath.Int {
	denom := supply.AddRaw(VirtualShareOffset)
	num := value.AddRaw(1)
	return assets.Mul(denom).Quo(num)
}

// sharesForCeil is sharesFor rounded up, so a withdrawal by asset amount
// always burns enough shares to cover it.
func sharesForCeil(assets, supply, value sdkmath.Int) sdkmath.Int {
	denom := supply.AddRaw(VirtualShareOffset)
	num := value.AddRaw(1)
	product := assets.Mul(denom)
	out := product.Quo(num)
	if !product.Mod(num).IsZero() {
		out = out.AddRaw(1)
	}
	return out
}

// assetsFor prices shares back into assets, floored.
func assetsFor(shares, supply, value sdkmath.Int) sdkmath.Int {
	denom := supply.AddRaw(VirtualShareOffset)
	num := value.AddRaw(1)
	return shares.Mul(num).Quo(denom)
}

func allowanceKey(owner, spender sdk.AccAddress) string {
	return owner.String() + "/" + spender.String()
}

// BalanceOf returns the share balance of addr.
func (v *Vault) BalanceOf(addr sdk.AccAddress) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shareBalance(addr)
}

// TotalSupply returns the outstanding share supply.
func (v *Vault) TotalSupply() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}

// Allowance returns how many of owner's shares spender may move.
func (v *Vault) Allowance(owner, spender sdk.AccAddress) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allowance(owner, spender)
}

func (v *Vault) allowance(owner, spender sdk.AccAddress) sdkmath.Int {
	if a, ok := v.allowances[allowanceKey(owner, spender)]; ok {
		return a
	}
	return sdkmath.ZeroInt()
}

// Approve sets spender's allowance over owner's shares. Zero revokes it.
func (v *Vault) Approve(owner, spender sdk.AccAddress, amount sdkmath.Int) error {
	if owner.Empty() || spender.Empty() {
		return ErrEmptyAddress
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if amount.IsZero() {
		delete(v.allowances, allowanceKey(owner, spender))
		return nil
	}
	v.allowances[allowanceKey(owner, spender)] = amount
	return nil
}

func (v *Vault) spendAllowance(owner, spender sdk.AccAddress, amount sdkmath.Int) error {
	if owner.Equals(spender) {
		return nil
	}
	current := v.allowance(owner, spender)
	if current.LT(amount) {
		return fmt.Errorf("%w: %s approved, %s needed", ErrInsufficientAllowance, current, amount)
	}
	rest := current.Sub(amount)
	if rest.IsZero() {
		delete(v.allowances, allowanceKey(owner, spender))
	} else {
		v.allowances[allowanceKey(owner, spender)] = rest
	}
	return nil
}

// Transfer moves shares between holders. Supply is unchanged. When caller
// differs from from, caller's allowance is spent.
func (v *Vault) Transfer(caller, from, to sdk.AccAddress, amount sdkmath.Int) error {
	if from.Empty() || to.Empty() {
		return ErrEmptyAddress
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.shareBalance(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, from, bal, amount)
	}
	if err := v.spendAllowance(from, caller, amount); err != nil {
		return err
	}
	v.setShareBalance(from, bal.Sub(amount))
	v.setShareBalance(to, v.shareBalance(to).Add(amount))
	return nil
}

// PreviewDeposit estimates the shares a deposit of assets would mint if its
// epoch settled now. Informational only.
func (v *Vault) PreviewDeposit(ctx context.Context, assets sdkmath.Int) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	net := assets.Sub(utils.MulBps(assets, v.params.DepositFeeBps))
	return sharesFor(net, v.totalShares, v.snapshot(ctx).Backing)
}

// PreviewRedeem returns the gross assets a withdrawal of shares would queue.
func (v *Vault) PreviewRedeem(ctx context.Context, shares sdkmath.Int) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return assetsFor(shares, v.totalShares, v.snapshot(ctx).Backing)
}

// PreviewWithdraw returns the shares a withdrawal of assets would burn.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets sdkmath.Int) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sharesForCeil(assets, v.totalShares, v.snapshot(ctx).Backing)
}

// ConvertToAssets values shares at the current price.
func (v *Vault) ConvertToAssets(ctx context.Context, shares sdkmath.Int) sdkmath.Int {
	return v.PreviewRedeem(ctx, shares)
}
