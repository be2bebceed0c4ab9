/*

This file contains the rebalance decision engine: given current health versus
the configured debt-ratio and delta targets, it decides whether the vault
needs to lever up (borrow and add to the LP position) or delever (remove LP
and repay), and sizes both legs.

*/

package rebalance

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidInputs = errors.New("rebalance inputs are invalid")
	ErrNoEquity      = errors.New("cannot size a rebalance with zero or negative equity")
)

// Kind is the physical action a decision resolves to.
type Kind int

const (
	NoAction Kind = iota
	Add           // borrow more and add to the pool position
	Remove        // withdraw LP and repay debt
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "ADD"
	case Remove:
		return "REMOVE"
	default:
		return "NO_ACTION"
	}
}

// Inputs is one observation of vault health, in USD values and whole-token
// prices, all 18-decimal.
type Inputs struct {
	Equity     sdkmath.LegacyDec
	DebtValueA sdkmath.LegacyDec
	DebtValueB sdkmath.LegacyDec
	DebtRatio  sdkmath.LegacyDec
	Delta      sdkmath.LegacyDec
	LpUnitValue sdkmath.LegacyDec // USD value of one LP share
	PriceA     sdkmath.LegacyDec
	PriceB     sdkmath.LegacyDec
}

// Action is a sized rebalance decision. Borrow legs are set for Add; the LP
// amount and repay legs are set for Remove. Amounts are whole-token.
type Action struct {
	Kind     Kind
	BorrowA  sdkmath.LegacyDec
	BorrowB  sdkmath.LegacyDec
	LpAmount sdkmath.LegacyDec
	RepayA   sdkmath.LegacyDec
	RepayB   sdkmath.LegacyDec
	Reason   string
}

// TargetDebtValue is the total debt the configured leverage implies:
// equity * (leverageTarget - 1).
func TargetDebtValue(equity, leverageTarget sdkmath.LegacyDec) sdkmath.LegacyDec {
	return equity.Mul(leverageTarget.Sub(sdkmath.LegacyOneDec()))
}

// TargetDebtLegs splits a target debt between the two borrow legs.
//
// Neutral mode shorts tokenA against its share of the pool: for a 50/50 pool
// at leverage L the LP holds L*equity/2 of tokenA value, so the tokenA leg is
// L/2 * equity and tokenB carries the remaining (L-2)/2 * equity. Long mode
// borrows only tokenB. Deposits use the same split to lever fresh equity.
func TargetDebtLegs(equity, leverageTarget sdkmath.LegacyDec, mode types.DeltaMode) (sdkmath.LegacyDec, sdkmath.LegacyDec) {
	zero := sdkmath.LegacyZeroDec()
	two := sdkmath.LegacyNewDec(2)

	if mode == types.DeltaLong {
		return zero, TargetDebtValue(equity, leverageTarget)
	}

	targetA := equity.Mul(leverageTarget).Quo(two)
	targetB := equity.Mul(leverageTarget.Sub(two)).Quo(two)
	if targetB.IsNegative() {
		targetB = zero
	}
	return targetA, targetB
}

// Decide evaluates the debt-ratio and delta triggers and, when either fires,
// sizes the corrective action.
func Decide(in Inputs, params types.VaultParameters) (Action, error) {
	if err := validateInputs(in, params); err != nil {
		return Action{}, err
	}

	engineLogger := logger.GetForComponent("rebalance_engine")

	reason, triggered := evaluateTriggers(in, params)
	if !triggered {
		return Action{Kind: NoAction}, nil
	}

	if !in.Equity.IsPositive() {
		return Action{}, ErrNoEquity
	}

	targetA, targetB := TargetDebtLegs(in.Equity, params.LeverageTarget, params.DeltaMode)
	diffA := in.DebtValueA.Sub(targetA)
	diffB := in.DebtValueB.Sub(targetB)
	totalDiff := diffA.Add(diffB)

	engineLogger.Info().
		Str("reason", reason).
		Str("target_debt_a", targetA.String()).
		Str("target_debt_b", targetB.String()).
		Str("diff_debt", totalDiff.String()).
		Msg("Rebalance triggered")

	zero := sdkmath.LegacyZeroDec()

	if totalDiff.IsPositive() {
		// Over-levered or over-exposed: remove LP and repay. The removal is
		// deliberately oversized by RemoveBufferFactor; a mild over-correction
		// self-heals on the next cycle while an under-correction would force a
		// second costly settlement round-trip.
		lpAmount := totalDiff.Quo(in.LpUnitValue).Mul(params.RemoveBufferFactor)

		repayA := zero
		if diffA.IsPositive() {
			repayA = diffA.Quo(in.PriceA)
		}
		repayB := zero
		if diffB.IsPositive() {
			repayB = diffB.Quo(in.PriceB)
		}

		return Action{
			Kind:     Remove,
			LpAmount: lpAmount,
			RepayA:   repayA,
			RepayB:   repayB,
			Reason:   reason,
		}, nil
	}

	// Under-levered or short tokenA beyond the band: borrow more and add.
	borrowA := zero
	if diffA.IsNegative() {
		borrowA = diffA.Neg().Quo(in.PriceA)
	}
	borrowB := zero
	if diffB.IsNegative() {
		borrowB = diffB.Neg().Quo(in.PriceB)
	}

	if borrowA.IsZero() && borrowB.IsZero() {
		// Legs cancel out exactly; nothing physical to do.
		return Action{Kind: NoAction}, nil
	}

	return Action{
		Kind:    Add,
		BorrowA: borrowA,
		BorrowB: borrowB,
		Reason:  reason,
	}, nil
}

// evaluateTriggers checks the debt-ratio trigger (always) and the delta
// trigger (Neutral mode only). Either alone fires.
func evaluateTriggers(in Inputs, params types.VaultParameters) (string, bool) {
	two := sdkmath.LegacyNewDec(2)

	if in.DebtRatio.GT(params.DebtRatioUpperLimit) || in.DebtRatio.LT(params.DebtRatioLowerLimit) {
		return fmt.Sprintf("debt ratio %s outside [%s, %s]",
			in.DebtRatio, params.DebtRatioLowerLimit, params.DebtRatioUpperLimit), true
	}

	midpoint := params.DebtRatioUpperLimit.Add(params.DebtRatioLowerLimit).Quo(two)
	if in.DebtRatio.Sub(midpoint).Abs().GT(params.DebtRatioStepThreshold) {
		return fmt.Sprintf("debt ratio %s drifted more than %s from midpoint %s",
			in.DebtRatio, params.DebtRatioStepThreshold, midpoint), true
	}

	if params.DeltaMode == types.DeltaNeutral {
		if in.Delta.GT(params.DeltaUpperLimit) || in.Delta.LT(params.DeltaLowerLimit) {
			return fmt.Sprintf("delta %s outside [%s, %s]",
				in.Delta, params.DeltaLowerLimit, params.DeltaUpperLimit), true
		}
	}

	return "", false
}

func validateInputs(in Inputs, params types.VaultParameters) error {
	decs := map[string]sdkmath.LegacyDec{
		"equity":        in.Equity,
		"debt_value_a":  in.DebtValueA,
		"debt_value_b":  in.DebtValueB,
		"debt_ratio":    in.DebtRatio,
		"delta":         in.Delta,
		"lp_unit_value": in.LpUnitValue,
		"price_a":       in.PriceA,
		"price_b":       in.PriceB,
	}
	for name, v := range decs {
		if v.IsNil() {
			return fmt.Errorf("%w: %s is nil", ErrInvalidInputs, name)
		}
	}
	if !in.LpUnitValue.IsPositive() {
		return fmt.Errorf("%w: lp_unit_value must be positive", ErrInvalidInputs)
	}
	if !in.PriceA.IsPositive() || !in.PriceB.IsPositive() {
		return fmt.Errorf("%w: prices must be positive", ErrInvalidInputs)
	}
	if params.LeverageTarget.IsNil() || params.LeverageTarget.LTE(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: leverage target must exceed 1", ErrInvalidInputs)
	}
	if params.RemoveBufferFactor.IsNil() || params.RemoveBufferFactor.LT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: remove buffer factor must be >= 1", ErrInvalidInputs)
	}
	return nil
}
