package engine

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/target"
)

var (
	admin    = sdk.AccAddress([]byte("admin_______________"))
	operator = sdk.AccAddress([]byte("operator____________"))
	treasury = sdk.AccAddress([]byte("treasury____________"))
	custody  = sdk.AccAddress([]byte("custody_____________"))
	alice    = sdk.AccAddress([]byte("alice_______________"))
	bob      = sdk.AccAddress([]byte("bob_________________"))
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t       *testing.T
	ctx     context.Context
	bank    *bank.Memory
	clock   *testClock
	rec     *events.Recorder
	instant *target.Instant
	sync    *target.SyncVault
	locked  *target.Locked
	pooled  *target.SimPooled
	vault   *Vault
}

func testParams() Params {
	return Params{
		EpochLength:      time.Hour,
		DepositFeeBps:    100,
		WithdrawFeeBps:   100,
		MaxFeeBps:        500,
		MinDeposit:       sdkmath.OneInt(),
		ReserveFloorBps:  0,
		ReserveTargetBps: 0,
		ReserveCeilBps:   10000,
		DeployInterval:   0,
		DeployBatchCap:   sdkmath.ZeroInt(),
	}
}

func feeless() Params {
	p := testParams()
	p.DepositFeeBps = 0
	p.WithdrawFeeBps = 0
	return p
}

func newHarness(t *testing.T, p Params, slots func(h *harness) []registry.Slot) *harness {
	t.Helper()
	b := bank.NewMemory()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		bank:  b,
		clock: &testClock{now: time.Unix(0, 0)},
		rec:   &events.Recorder{},
	}
	h.instant = target.NewInstant("instant", b, custody)
	h.sync = target.NewSyncVault("sync", b, custody)
	h.locked = target.NewLocked("locked", b, custody, 24*time.Hour, h.clock.Now)
	h.pooled = target.NewSimPooled("pooled", b, custody)

	var configured []registry.Slot
	if slots != nil {
		configured = slots(h)
	}
	v, err := New(Config{
		Params: p,
		Roles:  Roles{Admin: admin, Operator: operator, Treasury: treasury, Custody: custody},
		Bank:   b,
		Pooled: h.pooled,
		Slots:  configured,
		Events: h.rec,
		Clock:  h.clock.Now,
	})
	require.NoError(t, err)
	h.vault = v
	return h
}

func instantOnly(h *harness) []registry.Slot {
	return []registry.Slot{
		{Name: "instant", Target: h.instant, WeightBps: 10000, Tier: registry.TierInstant, Active: true},
	}
}

func (h *harness) fund(addr sdk.AccAddress, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.bank.Mint(addr, sdkmath.NewInt(amount)))
}

func (h *harness) deposit(from sdk.AccAddress, amount int64) DepositReceipt {
	h.t.Helper()
	h.fund(from, amount)
	r, err := h.vault.RequestDeposit(h.ctx, from, sdkmath.NewInt(amount), from)
	require.NoError(h.t, err)
	return r
}

func (h *harness) nextEpoch() {
	h.clock.Advance(h.vault.Params().EpochLength)
}

func (h *harness) settle(epoch uint64) Settlement {
	h.t.Helper()
	s, err := h.vault.Settle(h.ctx, epoch)
	require.NoError(h.t, err)
	return s
}

func (h *harness) balance(addr sdk.AccAddress) int64 {
	return h.bank.Balance(addr).Int64()
}

func (h *harness) shares(addr sdk.AccAddress) int64 {
	return h.vault.BalanceOf(addr).Int64()
}

func (h *harness) requirePendingInvariant() {
	h.t.Helper()
	sum := sdkmath.ZeroInt()
	for _, req := range h.vault.QueuedWithdrawals() {
		sum = sum.Add(req.Assets)
	}
	require.True(h.t, sum.Equal(h.vault.PendingWithdrawalAssets()),
		"pending counter %s != queued sum %s", h.vault.PendingWithdrawalAssets(), sum)
}

func TestNewValidatesConfig(t *testing.T) {
	b := bank.NewMemory()
	roles := Roles{Admin: admin, Operator: operator, Treasury: treasury, Custody: custody}

	_, err := New(Config{Params: testParams(), Roles: roles})
	require.ErrorIs(t, err, ErrInvalidConfig)

	noTreasury := roles
	noTreasury.Treasury = nil
	_, err = New(Config{Params: testParams(), Roles: noTreasury, Bank: b})
	require.ErrorIs(t, err, ErrInvalidConfig)

	bad := testParams()
	bad.DepositFeeBps = 600
	_, err = New(Config{Params: bad, Roles: roles, Bank: b})
	require.ErrorIs(t, err, ErrFeeTooHigh)

	bad = testParams()
	bad.ReserveFloorBps = 3000
	bad.ReserveTargetBps = 2000
	_, err = New(Config{Params: bad, Roles: roles, Bank: b})
	require.ErrorIs(t, err, ErrInvalidReserve)

	bad = testParams()
	bad.EpochLength = 0
	_, err = New(Config{Params: bad, Roles: roles, Bank: b})
	require.ErrorIs(t, err, ErrInvalidEpochLength)

	_, err = New(Config{
		Params: testParams(),
		Roles:  roles,
		Bank:   b,
		Slots:  []registry.Slot{{Name: "pooled", WeightBps: 10000, Tier: registry.TierPooled, Active: true}},
	})
	require.ErrorIs(t, err, ErrPooledAccountRequired)
}

func TestEpochFollowsClock(t *testing.T) {
	h := newHarness(t, testParams(), instantOnly)
	assert.Equal(t, uint64(0), h.vault.CurrentEpoch())
	h.clock.Advance(59 * time.Minute)
	assert.Equal(t, uint64(0), h.vault.CurrentEpoch())
	h.clock.Advance(time.Minute)
	assert.Equal(t, uint64(1), h.vault.CurrentEpoch())
}

func TestRequestDepositValidation(t *testing.T) {
	p := testParams()
	p.MinDeposit = sdkmath.NewInt(10)
	h := newHarness(t, p, instantOnly)
	h.fund(alice, 100)

	_, err := h.vault.RequestDeposit(h.ctx, alice, sdkmath.ZeroInt(), alice)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = h.vault.RequestDeposit(h.ctx, alice, sdkmath.NewInt(50), nil)
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = h.vault.RequestDeposit(h.ctx, alice, sdkmath.NewInt(9), alice)
	require.ErrorIs(t, err, ErrBelowMinimum)

	_, err = h.vault.RequestDeposit(h.ctx, alice, sdkmath.NewInt(500), alice)
	require.ErrorIs(t, err, ErrInsufficientAssets)

	assert.Equal(t, int64(100), h.balance(alice), "rejections must not move funds")
	assert.Empty(t, h.rec.Events())

	empty := newHarness(t, testParams(), nil)
	empty.fund(alice, 100)
	_, err = empty.vault.RequestDeposit(empty.ctx, alice, sdkmath.NewInt(50), alice)
	require.ErrorIs(t, err, ErrNoStrategies)
}

func TestRequestDepositEscrowsAndRoutesFee(t *testing.T) {
	h := newHarness(t, testParams(), instantOnly)
	h.fund(alice, 1000)

	r, err := h.vault.RequestDeposit(h.ctx, alice, sdkmath.NewInt(1000), bob)
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.Fee.Int64())
	assert.Equal(t, int64(990), r.NetAssets.Int64())
	assert.Equal(t, uint64(0), r.Epoch)

	assert.Equal(t, int64(0), h.balance(alice))
	assert.Equal(t, int64(990), h.balance(custody))
	assert.Equal(t, int64(10), h.balance(treasury))
	assert.True(t, h.vault.TotalSupply().IsZero(), "no shares before settlement")

	entries := h.vault.PendingDeposits(0)
	require.Len(t, entries, 1)
	assert.Equal(t, alice, entries[0].Depositor)
	assert.Equal(t, bob, entries[0].Receiver)
	assert.Equal(t, int64(990), h.vault.TotalPendingDeposits().Int64())

	assert.Len(t, h.rec.OfKind(events.KindDepositQueued), 1)
	assert.Len(t, h.rec.OfKind(events.KindDeposit), 1)
	assert.Len(t, h.rec.OfKind(events.KindFeesCollected), 1)
}

func TestRequestWithdrawValidation(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 1000)
	h.nextEpoch()
	h.settle(0)

	_, err := h.vault.RequestWithdraw(h.ctx, alice, sdkmath.ZeroInt(), alice, alice)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = h.vault.RequestWithdraw(h.ctx, alice, sdkmath.NewInt(10), alice, nil)
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = h.vault.RequestWithdraw(h.ctx, alice, sdkmath.NewInt(1001), alice, alice)
	require.ErrorIs(t, err, ErrInsufficientShares)

	_, err = h.vault.RequestRedeem(h.ctx, bob, sdkmath.NewInt(1_000_000), alice, bob)
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	assert.Equal(t, int64(1_000_000_000), h.shares(alice))
	assert.Empty(t, h.vault.QueuedWithdrawals())
}

func TestWithdrawBurnsSharesAtRequest(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 1000)
	h.nextEpoch()
	h.settle(0)

	assert.Equal(t, int64(250_000_000), h.vault.PreviewWithdraw(h.ctx, sdkmath.NewInt(250)).Int64())
	assert.Equal(t, int64(250), h.vault.PreviewRedeem(h.ctx, sdkmath.NewInt(250_000_000)).Int64())

	req, err := h.vault.RequestWithdraw(h.ctx, alice, sdkmath.NewInt(250), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(250), req.Assets.Int64())
	assert.Equal(t, int64(250_000_000), req.Shares.Int64())
	assert.Equal(t, uint64(1), req.Epoch)

	assert.Equal(t, int64(750_000_000), h.shares(alice))
	assert.Equal(t, int64(750_000_000), h.vault.TotalSupply().Int64())
	assert.Equal(t, int64(250), h.vault.PendingWithdrawalAssets().Int64())
	// the queued claim is no longer part of the fund's value
	assert.Equal(t, int64(750), h.vault.TotalValue(h.ctx).Int64())
	h.requirePendingInvariant()

	pos, ok := h.vault.QueuePosition(req.ID)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
}

func TestApproveAndTransferShares(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 100)
	h.nextEpoch()
	h.settle(0)

	require.NoError(t, h.vault.Approve(alice, bob, sdkmath.NewInt(60_000_000)))
	assert.Equal(t, int64(60_000_000), h.vault.Allowance(alice, bob).Int64())

	require.NoError(t, h.vault.Transfer(bob, alice, bob, sdkmath.NewInt(40_000_000)))
	assert.Equal(t, int64(40_000_000), h.shares(bob))
	assert.Equal(t, int64(60_000_000), h.shares(alice))
	assert.Equal(t, int64(20_000_000), h.vault.Allowance(alice, bob).Int64())
	assert.Equal(t, int64(100_000_000), h.vault.TotalSupply().Int64(), "transfers never change supply")

	err := h.vault.Transfer(bob, alice, bob, sdkmath.NewInt(30_000_000))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	// spender redeems on the owner's behalf within the allowance
	req, err := h.vault.RequestRedeem(h.ctx, bob, sdkmath.NewInt(20_000_000), alice, bob)
	require.NoError(t, err)
	assert.Equal(t, alice, req.Owner)
	assert.True(t, h.vault.Allowance(alice, bob).IsZero())

	require.NoError(t, h.vault.Transfer(alice, alice, bob, sdkmath.NewInt(1)))
	require.ErrorIs(t, h.vault.Transfer(alice, alice, bob, sdkmath.NewInt(1_000_000_000)), ErrInsufficientShares)
}

func TestAdminSetters(t *testing.T) {
	h := newHarness(t, testParams(), instantOnly)

	require.ErrorIs(t, h.vault.SetFees(alice, 10, 10), ErrUnauthorized)
	require.ErrorIs(t, h.vault.SetFees(admin, 501, 10), ErrFeeTooHigh)
	require.NoError(t, h.vault.SetFees(admin, 50, 25))
	assert.Equal(t, uint32(50), h.vault.Params().DepositFeeBps)
	assert.Equal(t, uint32(25), h.vault.Params().WithdrawFeeBps)

	require.ErrorIs(t, h.vault.SetReserve(admin, 3000, 2000, 5000), ErrInvalidReserve)
	require.NoError(t, h.vault.SetReserve(admin, 1000, 2000, 3000))

	require.ErrorIs(t, h.vault.SetEpochLength(admin, 0), ErrInvalidEpochLength)
	require.NoError(t, h.vault.SetEpochLength(admin, 2*time.Hour))

	require.NoError(t, h.vault.SetDeployCadence(admin, time.Minute, sdkmath.NewInt(500)))
	require.NoError(t, h.vault.SetMinDeposit(admin, sdkmath.NewInt(5)))

	require.ErrorIs(t, h.vault.SetOperator(admin, nil), ErrEmptyAddress)
	require.NoError(t, h.vault.SetOperator(admin, bob))
	assert.Equal(t, bob, h.vault.Roles().Operator)
	require.NoError(t, h.vault.SetTreasury(admin, alice))
	assert.Equal(t, alice, h.vault.Roles().Treasury)

	// failed updates leave no config events behind
	assert.Len(t, h.rec.OfKind(events.KindConfigUpdated), 7)
}

func TestReplaceStrategiesRejectsRemovalOfValuedSlot(t *testing.T) {
	slots := func(h *harness) []registry.Slot {
		return []registry.Slot{
			{Name: "instant", Target: h.instant, WeightBps: 5000, Tier: registry.TierInstant, Active: true},
			{Name: "sync", Target: h.sync, WeightBps: 5000, Tier: registry.TierSynchronous, Active: true},
		}
	}
	h := newHarness(t, feeless(), slots)
	h.deposit(alice, 1000)
	h.nextEpoch()
	h.settle(0)
	_, err := h.vault.DeployBatch(h.ctx, operator)
	require.NoError(t, err)

	syncOnly := []registry.Slot{{Name: "sync", Target: h.sync, WeightBps: 10000, Tier: registry.TierSynchronous, Active: true}}
	err = h.vault.ReplaceStrategies(h.ctx, admin, syncOnly)
	require.ErrorIs(t, err, registry.ErrSlotHoldsValue)
	assert.Len(t, h.vault.Strategies(), 2, "rejected batch leaves the registry unchanged")

	// drain the instant slot, then the same replacement goes through
	_, err = h.instant.Withdraw(h.ctx, sdkmath.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, h.vault.ReplaceStrategies(h.ctx, admin, syncOnly))
	assert.Len(t, h.vault.Strategies(), 1)
	assert.Len(t, h.rec.OfKind(events.KindStrategiesUpdated), 1)

	require.ErrorIs(t, h.vault.ReplaceStrategies(h.ctx, alice, syncOnly), ErrUnauthorized)

	bad := []registry.Slot{{Name: "sync", Target: h.sync, WeightBps: 9000, Tier: registry.TierSynchronous, Active: true}}
	require.ErrorIs(t, h.vault.ReplaceStrategies(h.ctx, admin, bad), registry.ErrWeightSum)
}

func TestReplaceStrategiesRejectsSameNameNewTarget(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 1000)
	h.nextEpoch()
	h.settle(0)
	_, err := h.vault.DeployBatch(h.ctx, operator)
	require.NoError(t, err)
	before := h.vault.TotalValue(h.ctx)
	require.Equal(t, int64(1000), before.Int64())

	fresh := target.NewInstant("instant-v2", h.bank, custody)
	swapped := []registry.Slot{{Name: "instant", Target: fresh, WeightBps: 10000, Tier: registry.TierInstant, Active: true}}
	err = h.vault.ReplaceStrategies(h.ctx, admin, swapped)
	require.ErrorIs(t, err, registry.ErrSlotHoldsValue)
	assert.Same(t, h.instant, h.vault.Strategies()[0].Target)
	assert.True(t, before.Equal(h.vault.TotalValue(h.ctx)))
}

func TestEpochLengthChangeKeepsIndicesMonotonic(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 1000)
	for epoch := uint64(0); epoch < 10; epoch++ {
		h.nextEpoch()
		h.settle(epoch)
	}
	require.Equal(t, uint64(10), h.vault.CurrentEpoch())

	require.NoError(t, h.vault.SetEpochLength(admin, 2*time.Hour))
	assert.Equal(t, uint64(10), h.vault.CurrentEpoch())

	r := h.deposit(bob, 500)
	assert.Equal(t, uint64(10), r.Epoch)
	h.clock.Advance(time.Hour)
	assert.Equal(t, uint64(10), h.vault.CurrentEpoch(), "the running epoch takes the new length")
	assert.Empty(t, h.vault.UnsettledEpochs())

	h.clock.Advance(time.Hour)
	assert.Equal(t, uint64(11), h.vault.CurrentEpoch())
	assert.Equal(t, []uint64{10}, h.vault.UnsettledEpochs())
	h.settle(10)
	assert.Positive(t, h.shares(bob))
	assert.True(t, h.vault.TotalPendingDeposits().IsZero())

	// epoch 11 began at 12h; shrinking at 13h ends it on the spot and never
	// moves the index backwards
	h.clock.Advance(time.Hour)
	require.Equal(t, uint64(11), h.vault.CurrentEpoch())
	require.NoError(t, h.vault.SetEpochLength(admin, 30*time.Minute))
	assert.Equal(t, uint64(13), h.vault.CurrentEpoch())
	h.clock.Advance(30 * time.Minute)
	assert.Equal(t, uint64(14), h.vault.CurrentEpoch())
}

func TestQueueIntrospection(t *testing.T) {
	h := newHarness(t, feeless(), instantOnly)
	h.deposit(alice, 1000)
	h.nextEpoch()
	h.settle(0)

	var reqs []queue.WithdrawalRequest
	for i := 0; i < 3; i++ {
		req, err := h.vault.RequestWithdraw(h.ctx, alice, sdkmath.NewInt(100), alice, alice)
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	for i, req := range reqs {
		pos, ok := h.vault.QueuePosition(req.ID)
		require.True(t, ok)
		assert.Equal(t, i, pos)
	}
	_, ok := h.vault.QueuePosition(999)
	assert.False(t, ok)
}
