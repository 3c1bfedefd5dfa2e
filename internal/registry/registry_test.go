package registry

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/target"
)

var custody = sdk.AccAddress([]byte("custody_____________"))

func slots(b *bank.Memory) (Slot, Slot, Slot) {
	inst := Slot{Name: "instant", Target: target.NewInstant("instant", b, custody), WeightBps: 5000, Tier: TierInstant, Active: true}
	sync := Slot{Name: "sync", Target: target.NewSyncVault("sync", b, custody), WeightBps: 3000, Tier: TierSynchronous, Active: true}
	pool := Slot{Name: "pooled", WeightBps: 2000, Tier: TierPooled, Active: true}
	return inst, sync, pool
}

func TestValidate(t *testing.T) {
	b := bank.NewMemory()
	inst, sync, pool := slots(b)

	require.NoError(t, Validate([]Slot{inst, sync, pool}))

	short := sync
	short.WeightBps = 2999
	require.ErrorIs(t, Validate([]Slot{inst, short, pool}), ErrWeightSum)

	inactive := sync
	inactive.Active = false
	require.ErrorIs(t, Validate([]Slot{inst, inactive, pool}), ErrWeightSum)

	badPool := pool
	badPool.Target = inst.Target
	require.ErrorIs(t, Validate([]Slot{inst, sync, badPool}), ErrPooledHasTarget)

	pool2 := pool
	pool2.Name = "pooled-2"
	pool2.WeightBps = 0
	require.ErrorIs(t, Validate([]Slot{inst, sync, pool, pool2}), ErrMultiplePooled)

	noTarget := inst
	noTarget.Target = nil
	require.ErrorIs(t, Validate([]Slot{noTarget, sync, pool}), ErrMissingTarget)

	require.ErrorIs(t, Validate([]Slot{inst, inst}), ErrDuplicateSlot)
	require.ErrorIs(t, Validate(nil), ErrNoActiveSlots)
}

func TestReplaceRejectsRemovalOfValuedSlot(t *testing.T) {
	ctx := context.Background()
	b := bank.NewMemory()
	inst, sync, pool := slots(b)

	r, err := New([]Slot{inst, sync, pool})
	require.NoError(t, err)

	values := map[string]int64{"instant": 0, "sync": 25, "pooled": 0}
	valueOf := func(_ context.Context, s Slot) (sdkmath.Int, error) {
		return sdkmath.NewInt(values[s.Name]), nil
	}

	grown := inst
	grown.WeightBps = 8000
	_, err = r.Replace(ctx, []Slot{grown, pool}, valueOf)
	require.ErrorIs(t, err, ErrSlotHoldsValue)
	assert.Len(t, r.Active(), 3, "failed replacement must leave registry unchanged")

	values["sync"] = 0
	removed, err := r.Replace(ctx, []Slot{grown, pool}, valueOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"sync"}, removed)
	assert.Len(t, r.Active(), 2)
}

func TestReplaceTracksTargetsNotNames(t *testing.T) {
	ctx := context.Background()
	b := bank.NewMemory()
	inst, sync, pool := slots(b)
	r, err := New([]Slot{inst, sync, pool})
	require.NoError(t, err)

	valueOf := func(_ context.Context, s Slot) (sdkmath.Int, error) {
		if s.Target == inst.Target {
			return sdkmath.NewInt(1000), nil
		}
		return sdkmath.ZeroInt(), nil
	}

	swapped := inst
	swapped.Target = target.NewInstant("instant-v2", b, custody)
	_, err = r.Replace(ctx, []Slot{swapped, sync, pool}, valueOf)
	require.ErrorIs(t, err, ErrSlotHoldsValue)
	assert.Same(t, inst.Target, r.Active()[0].Target)

	// same target under a new name and weight is not a removal
	renamed := inst
	renamed.Name = "money-market"
	removed, err := r.Replace(ctx, []Slot{renamed, sync, pool}, valueOf)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, "money-market", r.Active()[0].Name)
}

func TestReplaceFailsClosedOnUnreadableValue(t *testing.T) {
	ctx := context.Background()
	b := bank.NewMemory()
	inst, sync, pool := slots(b)
	r, err := New([]Slot{inst, sync, pool})
	require.NoError(t, err)

	grown := inst
	grown.WeightBps = 8000
	_, err = r.Replace(ctx, []Slot{grown, pool}, func(context.Context, Slot) (sdkmath.Int, error) {
		return sdkmath.ZeroInt(), errors.New("rpc down")
	})
	require.ErrorIs(t, err, ErrSlotValueUnknown)
}

func TestTierQueries(t *testing.T) {
	b := bank.NewMemory()
	inst, sync, pool := slots(b)
	r, err := New([]Slot{inst, sync, pool})
	require.NoError(t, err)

	assert.False(t, r.Empty())
	assert.Len(t, r.Fast(), 2)
	p, ok := r.Pooled()
	require.True(t, ok)
	assert.Equal(t, "pooled", p.Name)
	assert.Empty(t, r.ByTier(TierLocked))

	empty, err := New(nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestTargetAmountsLastSlotAbsorbsRemainder(t *testing.T) {
	b := bank.NewMemory()
	inst, sync, pool := slots(b)
	active := []Slot{inst, sync, pool}

	amounts := TargetAmounts(active, sdkmath.NewInt(999))
	// 999*5000/10000 = 499, 999*3000/10000 = 299, remainder 201
	assert.Equal(t, int64(499), amounts[0].Int64())
	assert.Equal(t, int64(299), amounts[1].Int64())
	assert.Equal(t, int64(201), amounts[2].Int64())

	sum := sdkmath.ZeroInt()
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	assert.Equal(t, int64(999), sum.Int64())
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("locked")
	require.NoError(t, err)
	assert.Equal(t, TierLocked, tier)
	assert.False(t, tier.Fast())
	assert.True(t, TierSynchronous.Fast())

	_, err = ParseTier("cold")
	require.ErrorIs(t, err, ErrUnknownTier)
}
