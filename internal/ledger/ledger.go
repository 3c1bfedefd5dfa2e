// Package ledger aggregates the fund's assets across custody and every
// allocation tier into the figures the engine prices and pays against.
package ledger

import (
	"context"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
	"github.com/elys-network/epochvault/internal/utils"
)

// ReadErrorFunc is told about every failed collaborator read. The failed
// read itself contributes zero.
type ReadErrorFunc func(ctx context.Context, name string, err error)

// Snapshot is one consistent reading of the fund.
type Snapshot struct {
	Idle               sdkmath.Int `json:"idle"`
	Fast               sdkmath.Int `json:"fast"`
	FastWithdrawable   sdkmath.Int `json:"fastWithdrawable"`
	Pooled             sdkmath.Int `json:"pooled"` // signed
	Locked             sdkmath.Int `json:"locked"`
	PendingWithdrawals sdkmath.Int `json:"pendingWithdrawals"`
	PendingDeposits    sdkmath.Int `json:"pendingDeposits"`

	// Total is custody plus every tier, less queued withdrawal claims.
	Total sdkmath.Int `json:"total"`
	// Backing is Total less escrowed deposits not yet priced.
	Backing sdkmath.Int `json:"backing"`
	// Withdrawable is custody plus what fast slots can release now.
	Withdrawable sdkmath.Int `json:"withdrawable"`
}

// Pending carries the queue counters the ledger nets out.
type Pending struct {
	Withdrawals sdkmath.Int
	Deposits    sdkmath.Int
}

type Ledger struct {
	bank        bank.Bank
	custody     sdk.AccAddress
	pooled      target.PooledAccount
	onReadError ReadErrorFunc
}

// New builds a ledger. pooled may be nil when the fund has no external
// pooled account.
func New(b bank.Bank, custody sdk.AccAddress, pooled target.PooledAccount, onReadError ReadErrorFunc) *Ledger {
	if onReadError == nil {
		onReadError = func(context.Context, string, error) {}
	}
	return &Ledger{bank: b, custody: custody, pooled: pooled, onReadError: onReadError}
}

// Snapshot reads every collaborator once. Read failures never abort it.
func (l *Ledger) Snapshot(ctx context.Context, reg *registry.Registry, p Pending) Snapshot {
	s := Snapshot{
		Idle:               l.bank.Balance(l.custody),
		Fast:               sdkmath.ZeroInt(),
		FastWithdrawable:   sdkmath.ZeroInt(),
		Pooled:             l.PooledBalance(ctx),
		Locked:             sdkmath.ZeroInt(),
		PendingWithdrawals: orZero(p.Withdrawals),
		PendingDeposits:    orZero(p.Deposits),
	}

	for _, slot := range reg.Fast() {
		s.Fast = s.Fast.Add(l.value(ctx, slot.Target))
		s.FastWithdrawable = s.FastWithdrawable.Add(l.max(ctx, slot.Target))
	}
	for _, slot := range reg.ByTier(registry.TierLocked) {
		s.Locked = s.Locked.Add(l.value(ctx, slot.Target))
	}

	gross := s.Idle.Add(s.Fast).Add(s.Locked).Add(s.Pooled)
	if gross.IsNegative() {
		gross = sdkmath.ZeroInt()
	}
	s.Total = utils.SubFloorZero(gross, s.PendingWithdrawals)
	s.Backing = utils.SubFloorZero(s.Total, s.PendingDeposits)
	s.Withdrawable = s.Idle.Add(s.FastWithdrawable)
	return s
}

// Withdrawable reads only what the payout path needs: custody plus the fast
// slots' immediate capacity.
func (l *Ledger) Withdrawable(ctx context.Context, reg *registry.Registry) sdkmath.Int {
	w := l.bank.Balance(l.custody)
	for _, slot := range reg.Fast() {
		w = w.Add(l.max(ctx, slot.Target))
	}
	return w
}

// PooledBalance returns the signed pooled balance, zero when absent or
// unreadable.
func (l *Ledger) PooledBalance(ctx context.Context) sdkmath.Int {
	bal, _ := l.TryPooled(ctx)
	return bal
}

// TryPooled is PooledBalance that also says whether the read succeeded. An
// absent pooled account reads as a successful zero.
func (l *Ledger) TryPooled(ctx context.Context) (sdkmath.Int, bool) {
	if l.pooled == nil {
		return sdkmath.ZeroInt(), true
	}
	bal, err := l.pooled.Balance(ctx)
	if err != nil {
		l.onReadError(ctx, l.pooled.Name(), err)
		return sdkmath.ZeroInt(), false
	}
	return orZero(bal), true
}

// SlotValue reads one slot's value, propagating the error. Registry
// replacement uses it to refuse removals it cannot prove safe.
func (l *Ledger) SlotValue(ctx context.Context, slot registry.Slot) (sdkmath.Int, error) {
	if slot.Tier == registry.TierPooled {
		if l.pooled == nil {
			return sdkmath.ZeroInt(), nil
		}
		return l.pooled.Balance(ctx)
	}
	return slot.Target.CurrentValue(ctx)
}

// TryValue reads one target's value; failures are reported and count as zero.
func (l *Ledger) TryValue(ctx context.Context, t target.Target) (sdkmath.Int, bool) {
	v, err := t.CurrentValue(ctx)
	if err != nil {
		l.onReadError(ctx, t.Name(), err)
		return sdkmath.ZeroInt(), false
	}
	return orZero(v), true
}

// TryMax reads one target's immediate capacity; failures are reported and
// count as zero.
func (l *Ledger) TryMax(ctx context.Context, t target.Target) (sdkmath.Int, bool) {
	m, err := t.MaxWithdrawable(ctx)
	if err != nil {
		l.onReadError(ctx, t.Name(), err)
		return sdkmath.ZeroInt(), false
	}
	return orZero(m), true
}

func (l *Ledger) value(ctx context.Context, t target.Target) sdkmath.Int {
	v, _ := l.TryValue(ctx, t)
	if v.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return v
}

func (l *Ledger) max(ctx context.Context, t target.Target) sdkmath.Int {
	m, _ := l.TryMax(ctx, t)
	if m.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return m
}

func orZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}
