package rates

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func testParams() Params {
	return Params{
		BaseRate:       dec("0"),
		Multiplier:     dec("0.125"),
		JumpMultiplier: dec("2.5"),
		Kink1:          dec("0.8"),
		Kink2:          dec("0.9"),
	}
}

func testMaxParams() MaxParams {
	return MaxParams{
		MaxBaseRate:       dec("0.1"),
		MaxMultiplier:     dec("0.5"),
		MaxJumpMultiplier: dec("5"),
	}
}

func TestBorrowRateSegments(t *testing.T) {
	model, err := NewModel(testParams(), testMaxParams())
	require.NoError(t, err)

	// Rising segment: base + u/kink1 * multiplier.
	assert.True(t, model.BorrowRate(dec("0")).IsZero())
	assert.Equal(t, dec("0.078125"), model.BorrowRate(dec("0.5")))

	// Plateau between the kinks.
	assert.Equal(t, dec("0.125"), model.BorrowRate(dec("0.8")))
	assert.Equal(t, dec("0.125"), model.BorrowRate(dec("0.85")))

	// Jump segment.
	assert.Equal(t, dec("1.375"), model.BorrowRate(dec("0.95")))
	assert.Equal(t, dec("2.625"), model.BorrowRate(dec("1")))
}

func TestBorrowRateContinuousAtKinks(t *testing.T) {
	model, err := NewModel(testParams(), testMaxParams())
	require.NoError(t, err)

	epsilon := dec("0.000000000001")

	below := model.BorrowRate(dec("0.8").Sub(epsilon))
	at := model.BorrowRate(dec("0.8"))
	assert.True(t, at.Sub(below).Abs().LT(dec("0.000001")), "discontinuity at kink1")

	below = model.BorrowRate(dec("0.9").Sub(epsilon))
	at = model.BorrowRate(dec("0.9"))
	assert.True(t, at.Sub(below).Abs().LT(dec("0.000001")), "discontinuity at kink2")
}

func TestBorrowRateMonotone(t *testing.T) {
	model, err := NewModel(testParams(), testMaxParams())
	require.NoError(t, err)

	step := dec("0.01")
	prev := model.BorrowRate(dec("0"))
	for u := dec("0.01"); u.LTE(dec("1")); u = u.Add(step) {
		rate := model.BorrowRate(u)
		assert.True(t, rate.GTE(prev), "rate decreased at utilization %s", u)
		prev = rate
	}
}

func TestBorrowRateClampsUtilization(t *testing.T) {
	model, err := NewModel(testParams(), testMaxParams())
	require.NoError(t, err)

	assert.Equal(t, model.BorrowRate(dec("0")), model.BorrowRate(dec("-0.5")))
	assert.Equal(t, model.BorrowRate(dec("1")), model.BorrowRate(dec("1.7")))
	assert.Equal(t, model.BorrowRate(dec("0")), model.BorrowRate(sdkmath.LegacyDec{}))
}

func TestBorrowRateDegenerateKink2(t *testing.T) {
	p := testParams()
	p.Kink2 = dec("1")
	model, err := NewModel(p, testMaxParams())
	require.NoError(t, err)

	// The jump segment has zero span; the plateau applies everywhere above
	// kink1.
	assert.Equal(t, dec("0.125"), model.BorrowRate(dec("1")))
}

func TestNewModelRejectsBadParams(t *testing.T) {
	p := testParams()
	p.Kink1 = dec("0.95") // kink1 > kink2
	_, err := NewModel(p, testMaxParams())
	assert.ErrorIs(t, err, ErrInvalidParams)

	p = testParams()
	p.Kink2 = dec("1.1")
	_, err = NewModel(p, testMaxParams())
	assert.ErrorIs(t, err, ErrInvalidParams)

	p = testParams()
	p.BaseRate = sdkmath.LegacyDec{}
	_, err = NewModel(p, testMaxParams())
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewModelRejectsParamsOverMax(t *testing.T) {
	p := testParams()
	p.JumpMultiplier = dec("7")
	_, err := NewModel(p, testMaxParams())
	assert.ErrorIs(t, err, ErrParamsOverMax)
}

func TestSetParamsAtomic(t *testing.T) {
	model, err := NewModel(testParams(), testMaxParams())
	require.NoError(t, err)

	bad := testParams()
	bad.Multiplier = dec("0.9") // over max
	err = model.SetParams(bad)
	assert.ErrorIs(t, err, ErrParamsOverMax)

	// The rejected write must not have touched the model.
	assert.Equal(t, dec("0.125"), model.Params().Multiplier)

	good := testParams()
	good.BaseRate = dec("0.01")
	require.NoError(t, model.SetParams(good))
	assert.Equal(t, dec("0.01"), model.Params().BaseRate)
}
