/*

This file contains the in-process allocation targets used by the daemon's
simulation mode and by the engine tests. Each keeps its assets in the shared
bank under its own address, so custody, targets and users all reconcile
against one ledger.

*/

package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/utils"
)

var (
	_ Target        = (*Instant)(nil)
	_ Target        = (*SyncVault)(nil)
	_ Preparer      = (*SyncVault)(nil)
	_ Target        = (*Locked)(nil)
	_ PooledAccount = (*SimPooled)(nil)
)

// Faults injects collaborator failures.
type Faults struct {
	ReadErr     error
	DepositErr  error
	WithdrawErr error
}

// base carries what every simulated target shares.
type base struct {
	mu     sync.Mutex
	name   string
	addr   sdk.AccAddress
	owner  sdk.AccAddress
	bank   *bank.Memory
	faults Faults
}

func newBase(name string, b *bank.Memory, owner sdk.AccAddress) *base {
	return &base{
		name:  name,
		addr:  sdk.AccAddress([]byte(fmt.Sprintf("%-20.20s", "tgt:"+name))),
		owner: owner,
		bank:  b,
	}
}

func (t *base) Name() string            { return t.name }
func (t *base) Address() sdk.AccAddress { return t.addr }

// SetFaults replaces the injected failures.
func (t *base) SetFaults(f Faults) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = f
}

// AccrueYield mints amount into the target, raising its value.
func (t *base) AccrueYield(amount sdkmath.Int) error {
	return t.bank.Mint(t.addr, amount)
}

// RealizeLoss burns amount from the target, lowering its value.
func (t *base) RealizeLoss(amount sdkmath.Int) error {
	return t.bank.Burn(t.addr, amount)
}

func (t *base) sendToOwner(amount sdkmath.Int) error {
	if err := t.bank.Transfer(t.addr, t.owner, amount); err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	return nil
}

// Instant is a no-lockup target whose whole value is withdrawable.
type Instant struct {
	*base
	limit *sdkmath.Int
}

func NewInstant(name string, b *bank.Memory, owner sdk.AccAddress) *Instant {
	return &Instant{base: newBase(name, b, owner)}
}

// SetWithdrawLimit caps MaxWithdrawable, simulating thin exit liquidity. Nil removes the cap.
func (t *Instant) SetWithdrawLimit(limit *sdkmath.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = limit
}

func (t *Instant) Deposit(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.DepositErr != nil {
		return sdkmath.ZeroInt(), t.faults.DepositErr
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	return amount, nil
}

func (t *Instant) Withdraw(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.WithdrawErr != nil {
		return sdkmath.ZeroInt(), t.faults.WithdrawErr
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	if amount.GT(t.maxLocked()) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s requested from %s", ErrInsufficientValue, amount, t.name)
	}
	if err := t.sendToOwner(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amount, nil
}

func (t *Instant) CurrentValue(context.Context) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), t.faults.ReadErr
	}
	return t.bank.Balance(t.addr), nil
}

func (t *Instant) MaxWithdrawable(context.Context) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), t.faults.ReadErr
	}
	return t.maxLocked(), nil
}

func (t *Instant) maxLocked() sdkmath.Int {
	bal := t.bank.Balance(t.addr)
	if t.limit != nil {
		return utils.MinInt(bal, *t.limit)
	}
	return bal
}

// SyncVault is a share-based vault. The fund owns every unit, so the
// exchange rate is balance/units. Withdrawing needs the exact units staged
// first with PrepareWithdraw.
type SyncVault struct {
	*base
	units    sdkmath.Int
	prepared sdkmath.Int
}

func NewSyncVault(name string, b *bank.Memory, owner sdk.AccAddress) *SyncVault {
	return &SyncVault{
		base:     newBase(name, b, owner),
		units:    sdkmath.ZeroInt(),
		prepared: sdkmath.ZeroInt(),
	}
}

// Units returns the receipt units held by the fund.
func (t *SyncVault) Units() sdkmath.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.units
}

func (t *SyncVault) Deposit(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.DepositErr != nil {
		return sdkmath.ZeroInt(), t.faults.DepositErr
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	bal := t.bank.Balance(t.addr)
	if bal.LT(amount) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrDepositNotReceived, t.name)
	}
	before := bal.Sub(amount)
	minted := amount
	if t.units.IsPositive() && before.IsPositive() {
		minted = amount.Mul(t.units).Quo(before)
	}
	t.units = t.units.Add(minted)
	return minted, nil
}

// PrepareWithdraw stages the units needed for an exact asset amount,
// rounding up so the redemption always covers the request.
func (t *SyncVault) PrepareWithdraw(_ context.Context, assets sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.WithdrawErr != nil {
		return sdkmath.ZeroInt(), t.faults.WithdrawErr
	}
	needed, err := t.unitsFor(assets)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	t.prepared = needed
	return needed, nil
}

func (t *SyncVault) unitsFor(assets sdkmath.Int) (sdkmath.Int, error) {
	if !assets.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	bal := t.bank.Balance(t.addr)
	if bal.LT(assets) || !t.units.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s requested from %s", ErrInsufficientValue, assets, t.name)
	}
	// ceil(assets * units / bal)
	num := assets.Mul(t.units)
	needed := num.Quo(bal)
	if !num.Mod(bal).IsZero() {
		needed = needed.AddRaw(1)
	}
	if needed.GT(t.units) {
		needed = t.units
	}
	return needed, nil
}

func (t *SyncVault) Withdraw(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.WithdrawErr != nil {
		return sdkmath.ZeroInt(), t.faults.WithdrawErr
	}
	needed, err := t.unitsFor(amount)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if t.prepared.LT(needed) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s staged, %s needed", ErrUnitsNotPrepared, t.prepared, needed)
	}
	if err := t.sendToOwner(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	t.units = t.units.Sub(needed)
	t.prepared = sdkmath.ZeroInt()
	return amount, nil
}

func (t *SyncVault) CurrentValue(context.Context) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), t.faults.ReadErr
	}
	return t.bank.Balance(t.addr), nil
}

func (t *SyncVault) MaxWithdrawable(ctx context.Context) (sdkmath.Int, error) {
	return t.CurrentValue(ctx)
}

// Locked reports value but refuses withdrawals until its lockup elapses.
// Every deposit restarts the lockup.
type Locked struct {
	*base
	lockup   time.Duration
	unlockAt time.Time
	now      func() time.Time
}

func NewLocked(name string, b *bank.Memory, owner sdk.AccAddress, lockup time.Duration, now func() time.Time) *Locked {
	if now == nil {
		now = time.Now
	}
	return &Locked{base: newBase(name, b, owner), lockup: lockup, now: now}
}

// UnlockAt returns when withdrawals become possible.
func (t *Locked) UnlockAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlockAt
}

func (t *Locked) locked() bool {
	return t.now().Before(t.unlockAt)
}

func (t *Locked) Deposit(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.DepositErr != nil {
		return sdkmath.ZeroInt(), t.faults.DepositErr
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	t.unlockAt = t.now().Add(t.lockup)
	return amount, nil
}

func (t *Locked) Withdraw(_ context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.WithdrawErr != nil {
		return sdkmath.ZeroInt(), t.faults.WithdrawErr
	}
	if t.locked() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s until %s", ErrLocked, t.name, t.unlockAt.Format(time.RFC3339))
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	if err := t.sendToOwner(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return amount, nil
}

func (t *Locked) CurrentValue(context.Context) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), t.faults.ReadErr
	}
	return t.bank.Balance(t.addr), nil
}

func (t *Locked) MaxWithdrawable(context.Context) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), t.faults.ReadErr
	}
	if t.locked() {
		return sdkmath.ZeroInt(), nil
	}
	return t.bank.Balance(t.addr), nil
}

// SimPooled models the external capital-routing account. Inbound deposits
// stay in flight until Sync, and the reported balance may go negative.
type SimPooled struct {
	*base
	reported sdkmath.Int
	inflight sdkmath.Int
}

func NewSimPooled(name string, b *bank.Memory, owner sdk.AccAddress) *SimPooled {
	return &SimPooled{
		base:     newBase(name, b, owner),
		reported: sdkmath.ZeroInt(),
		inflight: sdkmath.ZeroInt(),
	}
}

func (p *SimPooled) Balance(context.Context) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.faults.ReadErr != nil {
		return sdkmath.ZeroInt(), p.faults.ReadErr
	}
	return p.reported, nil
}

// Inflight returns deposits not yet reflected in Balance.
func (p *SimPooled) Inflight() sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

func (p *SimPooled) Deposit(_ context.Context, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.faults.DepositErr != nil {
		return p.faults.DepositErr
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.inflight = p.inflight.Add(amount)
	return nil
}

// Sync lands in-flight deposits in the reported balance, the way the
// external account updates between calls.
func (p *SimPooled) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = p.reported.Add(p.inflight)
	p.inflight = sdkmath.ZeroInt()
}

// ApplyPnL moves the reported balance by delta. Gains are minted into the
// account; losses burn what the account holds and may drive the balance
// below zero.
func (p *SimPooled) ApplyPnL(delta sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case delta.IsPositive():
		if err := p.bank.Mint(p.addr, delta); err != nil {
			return err
		}
	case delta.IsNegative():
		burn := utils.MinInt(delta.Neg(), p.settledLocked())
		if burn.IsPositive() {
			if err := p.bank.Burn(p.addr, burn); err != nil {
				return err
			}
		}
	}
	p.reported = p.reported.Add(delta)
	return nil
}

// settledLocked is what can leave the account now: funds that have landed
// and are backed by a positive reported balance.
func (p *SimPooled) settledLocked() sdkmath.Int {
	if !p.reported.IsPositive() {
		return sdkmath.ZeroInt()
	}
	landed := utils.SubFloorZero(p.bank.Balance(p.addr), p.inflight)
	return utils.MinInt(landed, p.reported)
}

func (p *SimPooled) Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	return p.Transfer(ctx, p.owner, amount)
}

func (p *SimPooled) Transfer(_ context.Context, to sdk.AccAddress, amount sdkmath.Int) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.faults.WithdrawErr != nil {
		return sdkmath.ZeroInt(), p.faults.WithdrawErr
	}
	if !amount.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	moved := utils.MinInt(amount, p.settledLocked())
	if !moved.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	if err := p.bank.Transfer(p.addr, to, moved); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%s: %w", p.name, err)
	}
	p.reported = p.reported.Sub(moved)
	return moved, nil
}
