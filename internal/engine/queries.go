package engine

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/epochvault/internal/ledger"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/registry"
)

// Snapshot reads the ledger under the vault lock.
func (v *Vault) Snapshot(ctx context.Context) ledger.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot(ctx)
}

// TotalValue is custody plus every tier, less queued withdrawal claims.
func (v *Vault) TotalValue(ctx context.Context) sdkmath.Int {
	return v.Snapshot(ctx).Total
}

// WithdrawableLiquidity is custody plus what fast slots can release now.
func (v *Vault) WithdrawableLiquidity(ctx context.Context) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ledger.Withdrawable(ctx, v.registry)
}

func (v *Vault) CurrentEpoch() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentEpoch()
}

// PendingDeposits returns the escrowed entries of epoch.
func (v *Vault) PendingDeposits(epoch uint64) []queue.DepositEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.Deposits(epoch)
}

func (v *Vault) EpochDepositTotal(epoch uint64) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.EpochDepositTotal(epoch)
}

func (v *Vault) TotalPendingDeposits() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.TotalPendingDeposits()
}

func (v *Vault) PendingWithdrawalAssets() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.PendingWithdrawalAssets()
}

// QueuedWithdrawals returns the unpaid requests in FIFO order.
func (v *Vault) QueuedWithdrawals() []queue.WithdrawalRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.Pending()
}

// QueuePosition returns how many requests are ahead of id. False means the
// request was paid or never existed.
func (v *Vault) QueuePosition(id uint64) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.Position(id)
}

func (v *Vault) Strategies() []registry.Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registry.Slots()
}

func (v *Vault) Params() Params {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

func (v *Vault) Roles() Roles {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.roles
}
