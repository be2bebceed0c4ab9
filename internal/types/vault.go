/*

This file contains the persistent strategy-vault types: lifecycle status, delta
mode, the tunable risk parameters, and the health snapshot captured before every
asynchronous action.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultStatus is the lifecycle state of the strategy vault.
type VaultStatus int

const (
	VaultClosed VaultStatus = iota
	VaultOpen
	VaultActionInProgress
)

func (s VaultStatus) String() string {
	switch s {
	case VaultClosed:
		return "CLOSED"
	case VaultOpen:
		return "OPEN"
	case VaultActionInProgress:
		return "ACTION_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// DeltaMode selects the directional posture of the strategy.
type DeltaMode int

const (
	// DeltaLong keeps net long tokenA exposure; the delta trigger never fires.
	DeltaLong DeltaMode = iota
	// DeltaNeutral targets zero net tokenA exposure.
	DeltaNeutral
)

func (m DeltaMode) String() string {
	if m == DeltaNeutral {
		return "NEUTRAL"
	}
	return "LONG"
}

// VaultParameters holds all tunable risk limits and execution bounds for one
// vault. LeverageTarget and DeltaMode are fixed at deploy time; the rest can be
// updated through the parameter store.
type VaultParameters struct {
	// --- Strategy posture (fixed at deploy) ---
	LeverageTarget sdkmath.LegacyDec `json:"leverage_target"` // e.g., 3.0 for 3x
	DeltaMode      DeltaMode         `json:"delta_mode"`

	// --- Fees ---
	FeePerSecond sdkmath.LegacyDec `json:"fee_per_second"` // share-supply fraction minted to treasury per second
	Treasury     string            `json:"treasury"`

	// --- Risk limits ---
	DebtRatioStepThreshold sdkmath.LegacyDec `json:"debt_ratio_step_threshold"` // distance from band midpoint that triggers a rebalance
	DebtRatioUpperLimit    sdkmath.LegacyDec `json:"debt_ratio_upper_limit"`
	DebtRatioLowerLimit    sdkmath.LegacyDec `json:"debt_ratio_lower_limit"`
	DeltaUpperLimit        sdkmath.LegacyDec `json:"delta_upper_limit"`
	DeltaLowerLimit        sdkmath.LegacyDec `json:"delta_lower_limit"`

	// --- Execution bounds ---
	MinSlippage     sdkmath.LegacyDec `json:"min_slippage"`      // minimum slippage tolerance a request must allow
	MinExecutionFee sdkmath.LegacyDec `json:"min_execution_fee"` // minimum fee paid to the settlement keeper

	// RemoveBufferFactor oversizes the LP amount withdrawn when deleveraging.
	// Removing slightly too much self-heals on the next cycle; removing too
	// little forces a second settlement round-trip. Tunable, >= 1.
	RemoveBufferFactor sdkmath.LegacyDec `json:"remove_buffer_factor"`
}

// HealthSnapshot captures the vault's health metrics atomically before a
// request is submitted to the settlement venue. It is used after settlement to
// compute shares minted/burned and to validate post-action drift.
type HealthSnapshot struct {
	Equity     sdkmath.LegacyDec `json:"equity"`
	DebtRatio  sdkmath.LegacyDec `json:"debt_ratio"`
	Delta      sdkmath.LegacyDec `json:"delta"`
	LpAmt      sdkmath.LegacyDec `json:"lp_amt"`
	ShareValue sdkmath.LegacyDec `json:"share_value"`
	Timestamp  time.Time         `json:"timestamp"`
}
