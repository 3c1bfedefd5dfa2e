package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
)

var custody = sdk.AccAddress([]byte("custody_____________"))

type fixture struct {
	bank    *bank.Memory
	instant *target.Instant
	sync    *target.SyncVault
	locked  *target.Locked
	pooled  *target.SimPooled
	reg     *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bank.NewMemory()
	now := time.Unix(0, 0)
	f := &fixture{
		bank:    b,
		instant: target.NewInstant("instant", b, custody),
		sync:    target.NewSyncVault("sync", b, custody),
		locked:  target.NewLocked("locked", b, custody, time.Hour, func() time.Time { return now }),
		pooled:  target.NewSimPooled("pooled", b, custody),
	}
	reg, err := registry.New([]registry.Slot{
		{Name: "instant", Target: f.instant, WeightBps: 2500, Tier: registry.TierInstant, Active: true},
		{Name: "sync", Target: f.sync, WeightBps: 2500, Tier: registry.TierSynchronous, Active: true},
		{Name: "locked", Target: f.locked, WeightBps: 2500, Tier: registry.TierLocked, Active: true},
		{Name: "pooled", WeightBps: 2500, Tier: registry.TierPooled, Active: true},
	})
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *fixture) seed(t *testing.T, tgt target.Target, amount int64) {
	t.Helper()
	require.NoError(t, f.bank.Mint(tgt.Address(), sdkmath.NewInt(amount)))
	_, err := tgt.Deposit(context.Background(), sdkmath.NewInt(amount))
	require.NoError(t, err)
}

func TestSnapshotAggregatesTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.bank.Mint(custody, sdkmath.NewInt(100)))
	f.seed(t, f.instant, 200)
	f.seed(t, f.sync, 300)
	f.seed(t, f.locked, 400)
	require.NoError(t, f.pooled.ApplyPnL(sdkmath.NewInt(50)))

	l := New(f.bank, custody, f.pooled, nil)
	s := l.Snapshot(ctx, f.reg, Pending{Withdrawals: sdkmath.NewInt(30), Deposits: sdkmath.NewInt(20)})

	assert.Equal(t, int64(100), s.Idle.Int64())
	assert.Equal(t, int64(500), s.Fast.Int64())
	assert.Equal(t, int64(400), s.Locked.Int64())
	assert.Equal(t, int64(50), s.Pooled.Int64())
	assert.Equal(t, int64(1020), s.Total.Int64())
	assert.Equal(t, int64(1000), s.Backing.Int64())
	// locked value is not withdrawable while the lockup runs
	assert.Equal(t, int64(600), s.Withdrawable.Int64())
}

func TestNegativePooledBalanceReducesTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.bank.Mint(custody, sdkmath.NewInt(1000)))
	require.NoError(t, f.pooled.ApplyPnL(sdkmath.NewInt(-500)))

	l := New(f.bank, custody, f.pooled, nil)
	s := l.Snapshot(ctx, f.reg, Pending{})
	assert.Equal(t, int64(500), s.Total.Int64())

	require.NoError(t, f.pooled.ApplyPnL(sdkmath.NewInt(-1000)))
	s = l.Snapshot(ctx, f.reg, Pending{})
	assert.True(t, s.Total.IsZero(), "total floors at zero")
}

func TestReadFailuresCountAsZeroAndAreReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.bank.Mint(custody, sdkmath.NewInt(10)))
	f.seed(t, f.instant, 200)
	f.instant.SetFaults(target.Faults{ReadErr: errors.New("rpc down")})
	f.pooled.SetFaults(target.Faults{ReadErr: errors.New("rpc down")})

	var failed []string
	l := New(f.bank, custody, f.pooled, func(_ context.Context, name string, err error) {
		require.Error(t, err)
		failed = append(failed, name)
	})

	s := l.Snapshot(ctx, f.reg, Pending{})
	assert.Equal(t, int64(10), s.Total.Int64())
	assert.Equal(t, int64(10), s.Withdrawable.Int64())
	assert.Contains(t, failed, "instant")
	assert.Contains(t, failed, "pooled")

	_, err := l.SlotValue(ctx, registry.Slot{Name: "pooled", Tier: registry.TierPooled})
	require.Error(t, err)
}

func TestWithdrawableMatchesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.bank.Mint(custody, sdkmath.NewInt(70)))
	f.seed(t, f.sync, 30)

	l := New(f.bank, custody, nil, nil)
	assert.True(t, l.Snapshot(ctx, f.reg, Pending{}).Withdrawable.Equal(l.Withdrawable(ctx, f.reg)))
	assert.Equal(t, int64(100), l.Withdrawable(ctx, f.reg).Int64())
	assert.True(t, l.PooledBalance(ctx).IsZero())
}
