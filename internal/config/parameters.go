/*

This file contains the default risk parameters for a delta-neutral vault.

These values are calibrated for a 3x leveraged neutral strategy over a
volatile/stable pair. Each threshold balances responsiveness against the
settlement cost of an extra venue round-trip.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/rates"
	"github.com/parallax-fi/dnvm/internal/types"
)

// DefaultVaultParameters provides the baseline risk configuration. These
// values are used if no active parameters are found in the database during
// initialization.
func DefaultVaultParameters(treasury string) types.VaultParameters {
	return types.VaultParameters{
		LeverageTarget: sdkmath.LegacyNewDec(3),
		DeltaMode:      types.DeltaNeutral,

		// ~1% annually, accrued continuously on the share supply.
		FeePerSecond: sdkmath.LegacyNewDecWithPrec(317097919, 18),
		Treasury:     treasury,

		// Debt-ratio band for 3x: target 0.667, rebalance outside [0.6, 0.72]
		// or once drift from the band midpoint exceeds 0.045.
		DebtRatioStepThreshold: sdkmath.LegacyNewDecWithPrec(45, 3),
		DebtRatioUpperLimit:    sdkmath.LegacyNewDecWithPrec(72, 2),
		DebtRatioLowerLimit:    sdkmath.LegacyNewDecWithPrec(60, 2),

		// Neutrality band: rebalance once net tokenA exposure moves past
		// 15% of equity in either direction.
		DeltaUpperLimit: sdkmath.LegacyNewDecWithPrec(15, 2),
		DeltaLowerLimit: sdkmath.LegacyNewDecWithPrec(15, 2).Neg(),

		// Execution bounds. Requests below these are refused outright
		// rather than submitted with no protection.
		MinSlippage:     sdkmath.LegacyNewDecWithPrec(1, 3),  // 0.1%
		MinExecutionFee: sdkmath.LegacyNewDecWithPrec(1, 2),  // 0.01 in fee units

		// Removals are oversized 5% so a thin fill still covers the debt
		// repayment; the surplus self-heals on the next cycle.
		RemoveBufferFactor: sdkmath.LegacyNewDecWithPrec(105, 2),
	}
}

// DefaultRateParams is the baseline kinked curve for both lending pools:
// gentle up to 80% utilization, flat through the buffer zone, and a steep
// jump segment above 90% to defend the last liquidity.
func DefaultRateParams() rates.Params {
	return rates.Params{
		BaseRate:       sdkmath.LegacyNewDecWithPrec(25, 3), // 2.5%
		Multiplier:     sdkmath.LegacyNewDecWithPrec(10, 2), // +10% across the first segment
		JumpMultiplier: sdkmath.LegacyNewDec(25).Quo(sdkmath.LegacyNewDec(10)),
		Kink1:          sdkmath.LegacyNewDecWithPrec(80, 2),
		Kink2:          sdkmath.LegacyNewDecWithPrec(90, 2),
	}
}

// DefaultRateMaxParams bounds any later governance update to the curve.
func DefaultRateMaxParams() rates.MaxParams {
	return rates.MaxParams{
		MaxBaseRate:       sdkmath.LegacyNewDecWithPrec(10, 2),
		MaxMultiplier:     sdkmath.LegacyNewDecWithPrec(50, 2),
		MaxJumpMultiplier: sdkmath.LegacyNewDec(5),
	}
}
