package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/types"
)

// ExecutionVenue is the external settlement layer the vault submits actions
// to. Submission returns immediately with a venue-assigned request key; the
// venue's keeper later invokes exactly one callback on the vault per request.
// This interface abstracts away the specific execution venue, allowing for
// different implementations (live, simulation, etc.).
type ExecutionVenue interface {
	// SubmitDeposit asks the venue to add the given token amounts to the
	// vault's LP position.
	SubmitDeposit(req DepositRequest) (string, error)

	// SubmitWithdraw asks the venue to remove LP and return the underlying
	// tokens to the vault.
	SubmitWithdraw(req WithdrawRequest) (string, error)

	// SubmitOrder asks the venue to execute a composite rebalance or compound
	// order (swap plus add/remove).
	SubmitOrder(req OrderRequest) (string, error)
}

// DepositRequest carries the token amounts to add to the LP position. All
// amounts are whole-token 18-decimal values.
type DepositRequest struct {
	TokenAAmt    sdkmath.LegacyDec
	TokenBAmt    sdkmath.LegacyDec
	MinLpOut     sdkmath.LegacyDec
	Slippage     sdkmath.LegacyDec
	ExecutionFee sdkmath.LegacyDec
}

// WithdrawRequest carries the LP amount to remove and the minimum tokenB the
// vault must receive back.
type WithdrawRequest struct {
	LpAmt        sdkmath.LegacyDec
	MinTokenBOut sdkmath.LegacyDec
	Slippage     sdkmath.LegacyDec
	ExecutionFee sdkmath.LegacyDec
}

// OrderRequest is a composite rebalance or compound order.
type OrderRequest struct {
	Kind         types.ActionKind
	AddTokenAAmt sdkmath.LegacyDec // tokens to add (REBALANCE_ADD)
	AddTokenBAmt sdkmath.LegacyDec
	RemoveLpAmt  sdkmath.LegacyDec // LP to remove (REBALANCE_REMOVE)
	SwapToken    types.Token       // harvested reward to swap (COMPOUND)
	SwapAmt      sdkmath.LegacyDec
	Slippage     sdkmath.LegacyDec
	ExecutionFee sdkmath.LegacyDec
}

// Outcome reports what the venue actually executed. LpDelta is positive for
// LP gained and negative for LP removed; TokenAOut/TokenBOut are tokens
// returned to the vault.
type Outcome struct {
	LpDelta   sdkmath.LegacyDec
	TokenAOut sdkmath.LegacyDec
	TokenBOut sdkmath.LegacyDec
}
