// Package bank holds the asset balances every participant of the fund moves
// funds through: depositors, the custody account, the treasury and the
// addresses of allocation targets.
package bank

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrEmptyAddress      = errors.New("address is empty")
)

// Bank is the asset-transfer capability the engine needs.
type Bank interface {
	Balance(addr sdk.AccAddress) sdkmath.Int
	Transfer(from, to sdk.AccAddress, amount sdkmath.Int) error
}

// Memory is an in-process Bank. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	balances map[string]sdkmath.Int
	supply   sdkmath.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]sdkmath.Int),
		supply:   sdkmath.ZeroInt(),
	}
}

func (m *Memory) Balance(addr sdk.AccAddress) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(addr)
}

func (m *Memory) balanceLocked(addr sdk.AccAddress) sdkmath.Int {
	if b, ok := m.balances[addr.String()]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

// Transfer moves amount from one account to another. A zero amount is a no-op.
func (m *Memory) Transfer(from, to sdk.AccAddress, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if from.Empty() || to.Empty() {
		return ErrEmptyAddress
	}
	if amount.IsZero() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fromBal := m.balanceLocked(from)
	if fromBal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, fromBal, amount)
	}
	m.balances[from.String()] = fromBal.Sub(amount)
	m.balances[to.String()] = m.balanceLocked(to).Add(amount)
	return nil
}

// Mint credits new assets to addr. Used to fund accounts in simulation and
// to model yield accruing inside a target.
func (m *Memory) Mint(addr sdk.AccAddress, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if addr.Empty() {
		return ErrEmptyAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr.String()] = m.balanceLocked(addr).Add(amount)
	m.supply = m.supply.Add(amount)
	return nil
}

// Burn destroys assets held by addr. Used to model losses inside a target.
func (m *Memory) Burn(addr sdk.AccAddress, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(addr)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, burning %s", ErrInsufficientFunds, addr, bal, amount)
	}
	m.balances[addr.String()] = bal.Sub(amount)
	m.supply = m.supply.Sub(amount)
	return nil
}

// Supply returns the total amount ever minted minus burned.
func (m *Memory) Supply() sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}
