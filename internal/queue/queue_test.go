package queue

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = sdk.AccAddress([]byte("alice_______________"))
	bob   = sdk.AccAddress([]byte("bob_________________"))
)

func sumPending(q *Queue) sdkmath.Int {
	sum := sdkmath.ZeroInt()
	for _, req := range q.Pending() {
		sum = sum.Add(req.Assets)
	}
	return sum
}

func TestDepositEscrowPerEpoch(t *testing.T) {
	q := New()
	require.NoError(t, q.AddDeposit(3, DepositEntry{Depositor: alice, Receiver: alice, NetAssets: sdkmath.NewInt(100)}))
	require.NoError(t, q.AddDeposit(3, DepositEntry{Depositor: bob, Receiver: alice, NetAssets: sdkmath.NewInt(50)}))
	require.NoError(t, q.AddDeposit(1, DepositEntry{Depositor: bob, Receiver: bob, NetAssets: sdkmath.NewInt(7)}))

	assert.Equal(t, int64(150), q.EpochDepositTotal(3).Int64())
	assert.Equal(t, int64(157), q.TotalPendingDeposits().Int64())
	assert.Equal(t, []uint64{1, 3}, q.DepositEpochs())

	entries := q.Deposits(3)
	require.Len(t, entries, 2)
	assert.Equal(t, bob, entries[1].Depositor)

	cleared := q.ClearEpoch(3)
	assert.Equal(t, int64(150), cleared.Int64())
	assert.Empty(t, q.Deposits(3))
	assert.Equal(t, int64(7), q.TotalPendingDeposits().Int64())

	// clearing twice is harmless
	assert.True(t, q.ClearEpoch(3).IsZero())
	assert.Equal(t, int64(7), q.TotalPendingDeposits().Int64())
}

func TestAddDepositValidation(t *testing.T) {
	q := New()
	require.ErrorIs(t, q.AddDeposit(0, DepositEntry{Receiver: alice, NetAssets: sdkmath.ZeroInt()}), ErrInvalidAmount)
	require.ErrorIs(t, q.AddDeposit(0, DepositEntry{NetAssets: sdkmath.NewInt(1)}), ErrEmptyAddress)
}

func TestPendingCounterMatchesUnconsumed(t *testing.T) {
	q := New()
	for i, amt := range []int64{900, 100, 40} {
		req, err := q.Enqueue(alice, bob, sdkmath.NewInt(amt), sdkmath.NewInt(amt*10), uint64(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), req.ID)
		assert.Equal(t, sumPending(q), q.PendingWithdrawalAssets())
	}

	_, err := q.Consume(1)
	require.NoError(t, err)
	assert.Equal(t, sumPending(q), q.PendingWithdrawalAssets())
	assert.Equal(t, int64(140), q.PendingWithdrawalAssets().Int64())

	_, err = q.Consume(5)
	require.ErrorIs(t, err, ErrConsumeTooFar)
}

func TestEligibleStopsAtHeadBlocker(t *testing.T) {
	q := New()
	_, err := q.Enqueue(alice, alice, sdkmath.NewInt(900), sdkmath.NewInt(1), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(bob, bob, sdkmath.NewInt(100), sdkmath.NewInt(1), 0)
	require.NoError(t, err)

	reqs, total := q.Eligible(sdkmath.NewInt(100), 0)
	assert.Empty(t, reqs, "a smaller request behind the head must not be paid first")
	assert.True(t, total.IsZero())

	reqs, total = q.Eligible(sdkmath.NewInt(1000), 0)
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(1000), total.Int64())
}

func TestEligibleRespectsEpochBound(t *testing.T) {
	q := New()
	_, err := q.Enqueue(alice, alice, sdkmath.NewInt(10), sdkmath.NewInt(1), 2)
	require.NoError(t, err)
	_, err = q.Enqueue(alice, alice, sdkmath.NewInt(10), sdkmath.NewInt(1), 3)
	require.NoError(t, err)

	reqs, _ := q.Eligible(sdkmath.NewInt(1000), 2)
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(2), reqs[0].Epoch)

	reqs, _ = q.Eligible(sdkmath.NewInt(1000), 1)
	assert.Empty(t, reqs)
}

func TestPositionAndPending(t *testing.T) {
	q := New()
	first, err := q.Enqueue(alice, alice, sdkmath.NewInt(5), sdkmath.NewInt(5), 0)
	require.NoError(t, err)
	second, err := q.Enqueue(bob, bob, sdkmath.NewInt(6), sdkmath.NewInt(6), 0)
	require.NoError(t, err)

	pos, ok := q.Position(second.ID)
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	_, err = q.Consume(1)
	require.NoError(t, err)
	_, ok = q.Position(first.ID)
	assert.False(t, ok)
	pos, ok = q.Position(second.ID)
	require.True(t, ok)
	assert.Equal(t, 0, pos)

	want := []WithdrawalRequest{second}
	if diff := cmp.Diff(want, q.Pending(), cmp.Comparer(func(a, b sdkmath.Int) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestCompactionKeepsOrder(t *testing.T) {
	q := New()
	for i := 0; i < compactThreshold*2; i++ {
		_, err := q.Enqueue(alice, alice, sdkmath.NewInt(1), sdkmath.NewInt(1), 0)
		require.NoError(t, err)
	}
	_, err := q.Consume(compactThreshold + 10)
	require.NoError(t, err)

	assert.Equal(t, compactThreshold-10, q.Len())
	head := q.Pending()[0]
	assert.Equal(t, uint64(compactThreshold+11), head.ID)
	assert.Equal(t, int64(compactThreshold-10), q.PendingWithdrawalAssets().Int64())
}
