package state

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DBConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(DBConfig{Driver: "oracle"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestNilStoreIsNotInitialized(t *testing.T) {
	var s *Store
	_, err := s.CurrentCycle(context.Background())
	require.ErrorIs(t, err, ErrStoreNotInitialized)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestCycleCounter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, err = s.IncrementCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, s.ResetCycle(ctx, 10))
	n, err = s.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.Error(t, s.ResetCycle(ctx, -1))
}

func TestEventJournal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	paid := events.New(events.KindWithdrawalPaid, 3, time.Unix(2000, 0))
	paid.Account = "alice"
	paid.Receiver = "bob"
	paid.RequestID = 7
	paid.Assets = sdkmath.NewInt(981)
	paid.Fee = sdkmath.NewInt(9)

	fee := events.New(events.KindFeesCollected, 3, time.Unix(1000, 0))
	fee.Fee = sdkmath.NewInt(10)

	s.Emit(ctx, fee)
	s.Emit(ctx, paid)
	s.Emit(ctx, paid) // duplicate id is ignored

	all, err := s.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, paid.ID, all[0].ID, "newest first")

	got := all[0]
	assert.Equal(t, events.KindWithdrawalPaid, got.Kind)
	assert.Equal(t, uint64(3), got.Epoch)
	assert.Equal(t, "bob", got.Receiver)
	assert.Equal(t, uint64(7), got.RequestID)
	assert.True(t, got.Assets.Equal(sdkmath.NewInt(981)))
	assert.True(t, got.Shares.IsZero())
	assert.True(t, got.Fee.Equal(sdkmath.NewInt(9)))
	assert.Equal(t, int64(2000), got.Timestamp.Unix())

	fees, err := s.RecentEvents(ctx, events.KindFeesCollected, 10)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, fee.ID, fees[0].ID)
}

func sampleSettlement(epoch uint64) engine.Settlement {
	return engine.Settlement{
		Epoch:              epoch,
		SupplyBefore:       sdkmath.ZeroInt(),
		ValueBefore:        sdkmath.ZeroInt(),
		DepositAssets:      sdkmath.NewInt(990),
		SharesMinted:       sdkmath.NewInt(990_000_000),
		WithdrawAssetsPaid: sdkmath.NewInt(100),
		WithdrawalsPaid:    1,
		WithdrawFees:       sdkmath.NewInt(1),
	}
}

func TestSettlementRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Settlement(ctx, 0)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(0), time.Unix(3600, 0)))
	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(1), time.Unix(7200, 0)))
	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(1), time.Unix(9999, 0)), "re-recording an epoch is a no-op")

	rec, err := s.Settlement(ctx, 0)
	require.NoError(t, err)
	assert.True(t, rec.SharesMinted.Equal(sdkmath.NewInt(990_000_000)))
	assert.Equal(t, 1, rec.WithdrawalsPaid)
	assert.Equal(t, int64(3600), rec.SettledAt.Unix())

	recent, err := s.RecentSettlements(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(1), recent[0].Epoch)
	assert.Equal(t, int64(7200), recent[0].SettledAt.Unix())
}

func TestDeploymentRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id1, err := s.SaveDeployment(ctx, engine.DeployResult{FromIdle: sdkmath.NewInt(1000), ToLocked: sdkmath.ZeroInt()}, time.Unix(100, 0))
	require.NoError(t, err)
	id2, err := s.SaveDeployment(ctx, engine.DeployResult{FromIdle: sdkmath.ZeroInt(), ToLocked: sdkmath.NewInt(600)}, time.Unix(200, 0))
	require.NoError(t, err)
	_, err = s.SaveDeployment(ctx, engine.DeployResult{FromIdle: sdkmath.ZeroInt(), ToLocked: sdkmath.ZeroInt(), Skipped: engine.SkipPaused}, time.Unix(300, 0))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	recent, err := s.RecentDeployments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, engine.SkipPaused, recent[0].Skipped)
	assert.True(t, recent[1].ToLocked.Equal(sdkmath.NewInt(600)))
}

func TestParamsVersions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ActiveParams(ctx, "default")
	require.ErrorIs(t, err, ErrNotFound)

	p := engine.Params{
		EpochLength:      24 * time.Hour,
		DepositFeeBps:    100,
		WithdrawFeeBps:   50,
		MaxFeeBps:        500,
		MinDeposit:       sdkmath.NewInt(10),
		ReserveFloorBps:  500,
		ReserveTargetBps: 1000,
		ReserveCeilBps:   2000,
		DeployInterval:   time.Hour,
		DeployBatchCap:   sdkmath.ZeroInt(),
	}
	v1, err := s.SaveParams(ctx, p, "default", true)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	p.DepositFeeBps = 200
	v2, err := s.SaveParams(ctx, p, "default", true)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	_, err = s.SaveParams(ctx, p, "staging", false)
	require.NoError(t, err)

	active, err := s.ActiveParams(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, uint32(200), active.Params.DepositFeeBps)
	assert.Equal(t, 24*time.Hour, active.Params.EpochLength)
	assert.True(t, active.Params.MinDeposit.Equal(sdkmath.NewInt(10)))

	_, err = s.ActiveParams(ctx, "staging")
	require.ErrorIs(t, err, ErrNotFound, "inactive versions are never loaded")
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(0), time.Unix(3600, 0)))
	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(4), time.Unix(18000, 0)))
	_, err := s.SaveDeployment(ctx, engine.DeployResult{FromIdle: sdkmath.NewInt(700), ToLocked: sdkmath.ZeroInt()}, time.Unix(100, 0))
	require.NoError(t, err)
	_, err = s.SaveDeployment(ctx, engine.DeployResult{FromIdle: sdkmath.ZeroInt(), ToLocked: sdkmath.ZeroInt(), Skipped: engine.SkipQueuePending}, time.Unix(200, 0))
	require.NoError(t, err)

	for _, amt := range []int64{10, 9} {
		ev := events.New(events.KindFeesCollected, 0, time.Unix(50, 0))
		ev.Fee = sdkmath.NewInt(amt)
		s.Emit(ctx, ev)
	}
	s.Emit(ctx, events.New(events.KindEpochSettled, 0, time.Unix(60, 0)))

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.SettledEpochs)
	require.NotNil(t, sum.LastSettledEpoch)
	assert.Equal(t, uint64(4), *sum.LastSettledEpoch)
	require.NotNil(t, sum.LastSettledAt)
	assert.Equal(t, int64(18000), sum.LastSettledAt.Unix())
	assert.True(t, sum.DepositAssets.Equal(sdkmath.NewInt(1980)))
	assert.Equal(t, 2, sum.WithdrawalsPaid)
	assert.Equal(t, 1, sum.Deployments)
	assert.True(t, sum.DeployedFromIdle.Equal(sdkmath.NewInt(700)))
	assert.True(t, sum.FeesCollected.Equal(sdkmath.NewInt(19)))
	assert.Equal(t, map[string]int{"fees_collected": 2, "epoch_settled": 1}, sum.EventsByKind)
}

func TestResetSchemaDropsData(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveSettlement(ctx, sampleSettlement(0), time.Unix(1, 0)))
	_, err := s.IncrementCycle(ctx)
	require.NoError(t, err)

	require.NoError(t, s.ResetSchema(ctx))

	recent, err := s.RecentSettlements(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	n, err := s.CurrentCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
