package main

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/epochvault/internal/config"
	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/registry"
	"github.com/elys-network/epochvault/internal/state"
)

var (
	admin    = sdk.AccAddress([]byte("admin_______________"))
	operator = sdk.AccAddress([]byte("operator____________"))
	treasury = sdk.AccAddress([]byte("treasury____________"))
	custody  = sdk.AccAddress([]byte("custody_____________"))
	alice    = sdk.AccAddress([]byte("alice_______________"))
)

func strategyDoc() string {
	return `
balances:
  - address: ` + alice.String() + `
    amount: "10000"
strategies:
  - name: money-market
    tier: instant
    weightBps: 4000
  - name: term-deposit
    tier: locked
    weightBps: 5000
    lockup: 24h
  - name: router
    tier: external_pooled
    weightBps: 1000
`
}

func TestBuildSimulationDrivesVault(t *testing.T) {
	file, err := config.ParseStrategies([]byte(strategyDoc()))
	require.NoError(t, err)

	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	sim, err := buildSimulation(file, custody, clock)
	require.NoError(t, err)

	require.Len(t, sim.slots, 3)
	assert.Equal(t, registry.TierInstant, sim.slots[0].Tier)
	assert.NotNil(t, sim.slots[1].Target)
	assert.Nil(t, sim.slots[2].Target)
	require.NotNil(t, sim.pooledAccount())
	assert.Equal(t, int64(10_000), sim.bank.Balance(alice).Int64())

	params := config.DefaultParams()
	params.MinDeposit = sdkmath.OneInt()
	params.DeployInterval = 0
	v, err := engine.New(engine.Config{
		Params: params,
		Roles:  engine.Roles{Admin: admin, Operator: operator, Treasury: treasury, Custody: custody},
		Bank:   sim.bank,
		Pooled: sim.pooledAccount(),
		Slots:  sim.slots,
		Clock:  clock,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = v.RequestDeposit(ctx, alice, sdkmath.NewInt(10_000), alice)
	require.NoError(t, err)
	now = now.Add(params.EpochLength)
	_, err = v.Settle(ctx, 0)
	require.NoError(t, err)

	// reserve 1000; instant 3600; the pooled tier gets its own 900 plus the
	// 4500 bound for the locked slot
	res, err := v.DeployBatch(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), res.FromIdle.Int64())
	assert.True(t, res.ToLocked.IsZero())

	sim.advance(ctx)
	res, err = v.DeployBatch(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, int64(4_500), res.ToLocked.Int64())
	assert.Equal(t, int64(10_000), v.TotalValue(ctx).Int64())
}

func TestBuildSimulationWithoutPooled(t *testing.T) {
	file, err := config.ParseStrategies([]byte("strategies:\n  - name: mm\n    tier: instant\n    weightBps: 10000\n"))
	require.NoError(t, err)

	sim, err := buildSimulation(file, custody, time.Now)
	require.NoError(t, err)
	assert.Nil(t, sim.pooledAccount())
	sim.advance(context.Background())
}

func TestLoadActiveParamsSeedsThenRestores(t *testing.T) {
	ctx := context.Background()
	store, err := state.Open(state.DBConfig{Driver: state.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.EnsureSchema(ctx))

	configured := config.DefaultParams()
	got, err := loadActiveParams(ctx, store, configured)
	require.NoError(t, err)
	assert.Equal(t, configured.EpochLength, got.EpochLength)

	stored := configured
	stored.WithdrawFeeBps = 50
	_, err = store.SaveParams(ctx, stored, state.DefaultParamsConfig, true)
	require.NoError(t, err)

	got, err = loadActiveParams(ctx, store, configured)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), got.WithdrawFeeBps)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "reset-db"}, names)
}
