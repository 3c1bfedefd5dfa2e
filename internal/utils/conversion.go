/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations, basis-point arithmetic and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10000

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrInvalidBps       = errors.New("basis points out of range")
)

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// ParseAmount parses a base-10 integer amount. Negative amounts are rejected.
func ParseAmount(s string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q is not an integer amount", ErrConversionFailed, s)
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return amount, nil
}

// ValidateBps checks that bps lies in [0, 10000].
func ValidateBps(bps uint32) error {
	if bps > BpsDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	return nil
}

// MulBps returns amount * bps / 10000, rounded down.
func MulBps(amount sdkmath.Int, bps uint32) sdkmath.Int {
	if amount.IsNil() || bps == 0 {
		return sdkmath.ZeroInt()
	}
	return amount.MulRaw(int64(bps)).QuoRaw(BpsDenominator)
}

// SubFloorZero returns a - b, or zero when b exceeds a.
func SubFloorZero(a, b sdkmath.Int) sdkmath.Int {
	if b.GTE(a) {
		return sdkmath.ZeroInt()
	}
	return a.Sub(b)
}

// MinInt returns the smaller of a and b.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
