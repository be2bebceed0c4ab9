/*
This file contains common utility functions for converting between token-native
integer amounts and the 18-decimal fixed-point values used internally.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidDecimals  = errors.New("token decimals are invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrConversionFailed = errors.New("conversion failed")
)

// NativeToDec converts a token-native integer amount into a whole-token
// 18-decimal value. A USDC amount of 1_500_000 with 6 decimals becomes 1.5.
func NativeToDec(amount sdkmath.Int, decimals int) (sdkmath.LegacyDec, error) {
	if decimals < 0 || decimals > 18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidDecimals, decimals)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < decimals; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	return sdkmath.LegacyNewDecFromInt(amount).Quo(factor), nil
}

// DecToNative converts a whole-token 18-decimal value into a token-native
// integer amount, truncating any dust below the token's precision.
func DecToNative(amount sdkmath.LegacyDec, decimals int) (sdkmath.Int, error) {
	if decimals < 0 || decimals > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidDecimals, decimals)
	}
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < decimals; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := amount.Mul(factor).TruncateInt()
	if result.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: truncation produced a negative amount", ErrConversionFailed)
	}

	return result, nil
}
