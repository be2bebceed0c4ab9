package rebalance

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/dnvm/internal/types"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

// testParams is a 3x delta-neutral posture with a [0.60, 0.72] debt-ratio
// band (midpoint 0.66, step 0.045) and a +-0.15 delta band.
func testParams() types.VaultParameters {
	return types.VaultParameters{
		LeverageTarget:         dec("3"),
		DeltaMode:              types.DeltaNeutral,
		DebtRatioStepThreshold: dec("0.045"),
		DebtRatioUpperLimit:    dec("0.72"),
		DebtRatioLowerLimit:    dec("0.60"),
		DeltaUpperLimit:        dec("0.15"),
		DeltaLowerLimit:        dec("-0.15"),
		RemoveBufferFactor:     dec("1.05"),
	}
}

// healthyInputs sits exactly at target: equity 100 levered 3x with debt legs
// 150/50, ratio at the band midpoint wants assets 300 and debt 200, and
// delta flat.
func healthyInputs() Inputs {
	return Inputs{
		Equity:      dec("100"),
		DebtValueA:  dec("150"),
		DebtValueB:  dec("50"),
		DebtRatio:   dec("0.66"),
		Delta:       dec("0"),
		LpUnitValue: dec("4"),
		PriceA:      dec("2"),
		PriceB:      dec("1"),
	}
}

func TestTargetDebtValue(t *testing.T) {
	assert.Equal(t, dec("200"), TargetDebtValue(dec("100"), dec("3")))
	assert.True(t, TargetDebtValue(dec("100"), dec("1")).IsZero())
}

func TestTargetDebtLegs(t *testing.T) {
	// Neutral 3x: short tokenA for half the levered position; tokenB carries
	// the rest.
	legA, legB := TargetDebtLegs(dec("100"), dec("3"), types.DeltaNeutral)
	assert.Equal(t, dec("150"), legA)
	assert.Equal(t, dec("50"), legB)

	// Long mode borrows only tokenB.
	legA, legB = TargetDebtLegs(dec("100"), dec("3"), types.DeltaLong)
	assert.True(t, legA.IsZero())
	assert.Equal(t, dec("200"), legB)

	// Below 2x the tokenB leg clamps at zero rather than going negative.
	legA, legB = TargetDebtLegs(dec("100"), dec("1.5"), types.DeltaNeutral)
	assert.Equal(t, dec("75"), legA)
	assert.True(t, legB.IsZero())
}

func TestDecideNoActionWhenHealthy(t *testing.T) {
	action, err := Decide(healthyInputs(), testParams())
	require.NoError(t, err)
	assert.Equal(t, NoAction, action.Kind)
}

func TestDecideRemoveWhenOverLevered(t *testing.T) {
	in := healthyInputs()
	in.DebtValueA = dec("165")
	in.DebtValueB = dec("55")
	in.Delta = dec("0.2") // delta breach triggers; sizing comes from debt diffs

	action, err := Decide(in, testParams())
	require.NoError(t, err)
	require.Equal(t, Remove, action.Kind)

	// Excess debt is 15 + 5 = 20 USD; LP to pull is 20/4 * 1.05 buffer.
	assert.Equal(t, dec("5.25"), action.LpAmount)
	assert.Equal(t, dec("7.5"), action.RepayA) // 15 / price 2
	assert.Equal(t, dec("5"), action.RepayB)
	assert.NotEmpty(t, action.Reason)
}

func TestDecideAddWhenUnderLevered(t *testing.T) {
	in := healthyInputs()
	in.DebtValueA = dec("135")
	in.DebtValueB = dec("45")
	in.Delta = dec("-0.2")

	action, err := Decide(in, testParams())
	require.NoError(t, err)
	require.Equal(t, Add, action.Kind)

	assert.Equal(t, dec("7.5"), action.BorrowA) // 15 / price 2
	assert.Equal(t, dec("5"), action.BorrowB)
	assert.True(t, action.LpAmount.IsNil() || action.LpAmount.IsZero())
}

func TestDecideLegsCancelExactly(t *testing.T) {
	// Delta breached but debt legs already sit at target; there is nothing
	// physical to do.
	in := healthyInputs()
	in.Delta = dec("0.2")

	action, err := Decide(in, testParams())
	require.NoError(t, err)
	assert.Equal(t, NoAction, action.Kind)
}

func TestDebtRatioTriggers(t *testing.T) {
	params := testParams()

	// Hard band breach.
	in := healthyInputs()
	in.DebtRatio = dec("0.73")
	in.DebtValueA = dec("165")
	in.DebtValueB = dec("55")
	action, err := Decide(in, params)
	require.NoError(t, err)
	assert.Equal(t, Remove, action.Kind)

	// Step drift from the midpoint fires before the hard band does.
	in.DebtRatio = dec("0.71") // |0.71 - 0.66| > 0.045
	action, err = Decide(in, params)
	require.NoError(t, err)
	assert.Equal(t, Remove, action.Kind)

	// Inside the step band nothing fires.
	in.DebtRatio = dec("0.70")
	action, err = Decide(in, params)
	require.NoError(t, err)
	assert.Equal(t, NoAction, action.Kind)
}

func TestDeltaTriggerOnlyInNeutralMode(t *testing.T) {
	in := healthyInputs()
	in.Delta = dec("0.5")
	in.DebtValueA = dec("165")
	in.DebtValueB = dec("55")

	params := testParams()
	params.DeltaMode = types.DeltaLong
	action, err := Decide(in, params)
	require.NoError(t, err)
	assert.Equal(t, NoAction, action.Kind)

	params.DeltaMode = types.DeltaNeutral
	action, err = Decide(in, params)
	require.NoError(t, err)
	assert.Equal(t, Remove, action.Kind)
}

func TestDecideInvalidInputs(t *testing.T) {
	params := testParams()

	in := healthyInputs()
	in.Equity = sdkmath.LegacyDec{}
	_, err := Decide(in, params)
	assert.ErrorIs(t, err, ErrInvalidInputs)

	in = healthyInputs()
	in.LpUnitValue = dec("0")
	_, err = Decide(in, params)
	assert.ErrorIs(t, err, ErrInvalidInputs)

	in = healthyInputs()
	in.PriceA = dec("-1")
	_, err = Decide(in, params)
	assert.ErrorIs(t, err, ErrInvalidInputs)

	in = healthyInputs()
	params.LeverageTarget = dec("1")
	_, err = Decide(in, params)
	assert.ErrorIs(t, err, ErrInvalidInputs)

	params = testParams()
	params.RemoveBufferFactor = dec("0.9")
	_, err = Decide(healthyInputs(), params)
	assert.ErrorIs(t, err, ErrInvalidInputs)
}

func TestDecideNoEquity(t *testing.T) {
	in := healthyInputs()
	in.Equity = dec("0")
	in.DebtRatio = dec("1") // forces a trigger

	_, err := Decide(in, testParams())
	assert.ErrorIs(t, err, ErrNoEquity)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ADD", Add.String())
	assert.Equal(t, "REMOVE", Remove.String())
	assert.Equal(t, "NO_ACTION", NoAction.String())
}
