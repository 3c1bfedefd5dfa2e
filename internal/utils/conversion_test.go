package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulBpsFloors(t *testing.T) {
	assert.Equal(t, int64(9), MulBps(sdkmath.NewInt(990), 100).Int64())
	assert.Equal(t, int64(10), MulBps(sdkmath.NewInt(1000), 100).Int64())
	assert.True(t, MulBps(sdkmath.NewInt(1000), 0).IsZero())
	assert.Equal(t, int64(1000), MulBps(sdkmath.NewInt(1000), BpsDenominator).Int64())
}

func TestSubFloorZero(t *testing.T) {
	assert.Equal(t, int64(5), SubFloorZero(sdkmath.NewInt(10), sdkmath.NewInt(5)).Int64())
	assert.True(t, SubFloorZero(sdkmath.NewInt(5), sdkmath.NewInt(10)).IsZero())
	assert.True(t, SubFloorZero(sdkmath.NewInt(5), sdkmath.NewInt(5)).IsZero())
}

func TestValidateBps(t *testing.T) {
	require.NoError(t, ValidateBps(0))
	require.NoError(t, ValidateBps(BpsDenominator))
	require.ErrorIs(t, ValidateBps(BpsDenominator+1), ErrInvalidBps)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, err = ParseAmount("-1")
	require.ErrorIs(t, err, ErrAmountNegative)

	_, err = ParseAmount("1.5")
	require.ErrorIs(t, err, ErrConversionFailed)
}

func TestSDKIntToFloat64(t *testing.T) {
	f, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 1e-12)

	_, err = SDKIntToFloat64(sdkmath.NewInt(1), 19)
	require.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = SDKIntToFloat64(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)
}
