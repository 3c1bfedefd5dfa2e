package target

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrLocked             = errors.New("target is locked")
	ErrUnitsNotPrepared   = errors.New("receipt units not prepared for withdrawal")
	ErrInsufficientValue  = errors.New("target holds less than requested")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrZeroWithdraw       = errors.New("target withdrew zero")
	ErrDepositNotReceived = errors.New("deposit amount not present at target address")
)

// Target defines one yield-bearing destination for deployed capital.
// Implementations abstract away the connector (instant vault, share-based
// vault, lockup vault) so the engine can iterate slots polymorphically.
type Target interface {
	// Name identifies the target in logs and events.
	Name() string

	// Address is the account the caller funds before calling Deposit.
	Address() sdk.AccAddress

	// Deposit credits amount, which the caller has already moved to Address.
	// It returns the receipt units received. On error nothing is credited.
	Deposit(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)

	// Withdraw sends amount back to the fund's custody account and returns the
	// amount actually withdrawn.
	Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)

	// CurrentValue reports the fund's real-time position value, yield and
	// losses included.
	CurrentValue(ctx context.Context) (sdkmath.Int, error)

	// MaxWithdrawable reports what Withdraw could return right now. Zero
	// while locked or unavailable, never above CurrentValue.
	MaxWithdrawable(ctx context.Context) (sdkmath.Int, error)
}

// Preparer is implemented by share-based targets that need the exact
// receipt units for an asset amount staged before Withdraw.
type Preparer interface {
	PrepareWithdraw(ctx context.Context, assets sdkmath.Int) (sdkmath.Int, error)
}

// PooledAccount is the external capital-routing account behind the
// external-pooled tier. Its balance is signed and moves on its own schedule:
// funds sent with Deposit show up in Balance on a later call.
type PooledAccount interface {
	Name() string
	Address() sdk.AccAddress

	// Balance is the signed position value; negative after adverse PnL.
	Balance(ctx context.Context) (sdkmath.Int, error)

	// Deposit registers amount already moved to Address.
	Deposit(ctx context.Context, amount sdkmath.Int) error

	// Withdraw moves up to amount toward custody, best effort.
	Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)

	// Transfer moves up to amount of settled funds to another address, best
	// effort. Used to fund locked targets.
	Transfer(ctx context.Context, to sdk.AccAddress, amount sdkmath.Int) (sdkmath.Int, error)
}

// CheckWithdrawn applies the collaborator contract to a Withdraw result: an
// error or a zero amount both count as failure.
func CheckWithdrawn(amount sdkmath.Int, err error) (sdkmath.Int, error) {
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrZeroWithdraw
	}
	return amount, nil
}
