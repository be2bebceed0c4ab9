/*

This file contains the request parameters users and keepers submit to the
vault, the single-slot pending-action caches that track one in-flight
settlement round-trip, and the receipt persisted once it resolves.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ActionKind discriminates the pending-action caches and receipts.
type ActionKind string

const (
	ActionDeposit         ActionKind = "DEPOSIT"
	ActionWithdraw        ActionKind = "WITHDRAW"
	ActionRebalanceAdd    ActionKind = "REBALANCE_ADD"
	ActionRebalanceRemove ActionKind = "REBALANCE_REMOVE"
	ActionCompound        ActionKind = "COMPOUND"
)

// DepositParams is a user request to deposit tokenB and lever it up.
type DepositParams struct {
	Account      string            `json:"account"`
	Amount       sdkmath.Int       `json:"amount"` // token-native tokenB amount
	MinSharesOut sdkmath.LegacyDec `json:"min_shares_out"`
	Slippage     sdkmath.LegacyDec `json:"slippage"`      // tolerance the user grants, >= MinSlippage
	ExecutionFee sdkmath.LegacyDec `json:"execution_fee"` // fee paid to the settlement keeper
}

// WithdrawParams is a user request to burn shares and release tokenB.
type WithdrawParams struct {
	Account      string            `json:"account"`
	Shares       sdkmath.LegacyDec `json:"shares"`
	MinAmountOut sdkmath.Int       `json:"min_amount_out"` // token-native tokenB amount
	Slippage     sdkmath.LegacyDec `json:"slippage"`
	ExecutionFee sdkmath.LegacyDec `json:"execution_fee"`
}

// RebalanceParams is a keeper request to restore the debt-ratio/delta targets.
type RebalanceParams struct {
	Keeper       string            `json:"keeper"`
	Slippage     sdkmath.LegacyDec `json:"slippage"`
	ExecutionFee sdkmath.LegacyDec `json:"execution_fee"`
}

// CompoundParams is a keeper request to swap harvested rewards and reinvest.
type CompoundParams struct {
	Keeper       string            `json:"keeper"`
	RewardToken  Token             `json:"reward_token"`
	RewardAmount sdkmath.Int       `json:"reward_amount"` // token-native reward amount
	Slippage     sdkmath.LegacyDec `json:"slippage"`
	ExecutionFee sdkmath.LegacyDec `json:"execution_fee"`
}

// DepositCache is the pending-action slot for an in-flight deposit.
type DepositCache struct {
	Params     DepositParams  `json:"params"`
	RequestKey string         `json:"request_key"`
	Snapshot   HealthSnapshot `json:"snapshot"`
	BorrowedA  sdkmath.LegacyDec `json:"borrowed_a"` // whole-token legs borrowed before submission
	BorrowedB  sdkmath.LegacyDec `json:"borrowed_b"`
}

// WithdrawCache is the pending-action slot for an in-flight withdrawal.
type WithdrawCache struct {
	Params     WithdrawParams `json:"params"`
	RequestKey string         `json:"request_key"`
	Snapshot   HealthSnapshot `json:"snapshot"`
	LpToRemove sdkmath.LegacyDec `json:"lp_to_remove"`
	RepayA     sdkmath.LegacyDec `json:"repay_a"`
	RepayB     sdkmath.LegacyDec `json:"repay_b"`
}

// RebalanceCache is the pending-action slot for an in-flight rebalance of
// either direction.
type RebalanceCache struct {
	Kind       ActionKind      `json:"kind"` // ActionRebalanceAdd or ActionRebalanceRemove
	Params     RebalanceParams `json:"params"`
	RequestKey string          `json:"request_key"`
	Snapshot   HealthSnapshot  `json:"snapshot"`
	BorrowedA  sdkmath.LegacyDec `json:"borrowed_a"`
	BorrowedB  sdkmath.LegacyDec `json:"borrowed_b"`
	RepayA     sdkmath.LegacyDec `json:"repay_a"`
	RepayB     sdkmath.LegacyDec `json:"repay_b"`
	LpRemoved  sdkmath.LegacyDec `json:"lp_removed"` // LP sent to the venue for a remove
}

// CompoundCache is the pending-action slot for an in-flight compound.
type CompoundCache struct {
	Params     CompoundParams `json:"params"`
	RequestKey string         `json:"request_key"`
	Snapshot   HealthSnapshot `json:"snapshot"`
}

// ActionReceipt records the outcome of one settled (or refunded) action for
// the history store.
type ActionReceipt struct {
	ReceiptID  int64             `json:"receipt_id,omitempty"` // auto-incremented by DB
	Kind       ActionKind        `json:"kind"`
	RequestKey string            `json:"request_key"`
	Account    string            `json:"account,omitempty"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	SharesDelta sdkmath.LegacyDec `json:"shares_delta"` // minted (+) or burned (-)
	EquityBefore sdkmath.LegacyDec `json:"equity_before"`
	EquityAfter  sdkmath.LegacyDec `json:"equity_after"`
	Timestamp  time.Time         `json:"timestamp"`
}
