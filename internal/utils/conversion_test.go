package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeToDec(t *testing.T) {
	// 1.5 USDC in 6-decimal native units.
	v, err := NativeToDec(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("1.5"), v)

	// 18-decimal tokens pass through at full precision.
	v, err = NativeToDec(sdkmath.NewIntWithDecimal(7, 18), 18)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyNewDec(7), v)

	v, err = NativeToDec(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyNewDec(42), v)

	v, err = NativeToDec(sdkmath.ZeroInt(), 6)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestNativeToDecErrors(t *testing.T) {
	_, err := NativeToDec(sdkmath.NewInt(1), -1)
	assert.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = NativeToDec(sdkmath.NewInt(1), 19)
	assert.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = NativeToDec(sdkmath.Int{}, 6)
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = NativeToDec(sdkmath.NewInt(-5), 6)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestDecToNative(t *testing.T) {
	v, err := DecToNative(sdkmath.LegacyMustNewDecFromStr("1.5"), 6)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_500_000), v)

	// Dust below token precision truncates.
	v, err = DecToNative(sdkmath.LegacyMustNewDecFromStr("1.5000009"), 6)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_500_000), v)

	v, err = DecToNative(sdkmath.LegacyZeroDec(), 18)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestDecToNativeErrors(t *testing.T) {
	_, err := DecToNative(sdkmath.LegacyOneDec(), 19)
	assert.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = DecToNative(sdkmath.LegacyDec{}, 6)
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = DecToNative(sdkmath.LegacyMustNewDecFromStr("-0.1"), 6)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestRoundTripPreservesNativePrecision(t *testing.T) {
	native := sdkmath.NewInt(123_456_789)
	dec, err := NativeToDec(native, 6)
	require.NoError(t, err)
	back, err := DecToNative(dec, 6)
	require.NoError(t, err)
	assert.Equal(t, native, back)
}
