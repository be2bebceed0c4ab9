/*

This file contains the settlement side of the two-phase protocol: the four
callbacks the execution venue's keeper invokes once per submitted request.
Callbacks are matched to the pending-action cache by the opaque request key;
a key that matches nothing is rejected with ErrUnknownCallback and applies no
effects, which makes retried deliveries idempotent.

*/

package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/lending"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/utils"
)

// normalizeOutcome maps nil outcome fields to zero so a sloppy venue
// implementation cannot panic the settlement path.
func normalizeOutcome(out Outcome) Outcome {
	if out.LpDelta.IsNil() {
		out.LpDelta = sdkmath.LegacyZeroDec()
	}
	if out.TokenAOut.IsNil() {
		out.TokenAOut = sdkmath.LegacyZeroDec()
	}
	if out.TokenBOut.IsNil() {
		out.TokenBOut = sdkmath.LegacyZeroDec()
	}
	return out
}

// OnDepositExecuted settles an in-flight deposit: the received LP enters the
// books, and shares are minted as deltaEquity / shareValueBefore. If the
// minted amount would violate the user's minimum, the position is unwound at
// oracle value and the principal refunded instead.
func (v *Vault) OnDepositExecuted(requestKey string, out Outcome) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	out = normalizeOutcome(out)

	cache := v.pendingDeposit
	if cache == nil || cache.RequestKey != requestKey {
		return ErrUnknownCallback
	}

	// Apply the outcome to the books, then price the result. An oracle
	// failure rolls the books back and leaves the cache intact so the
	// delivery can be retried once the feed heals.
	v.lpAmt = v.lpAmt.Add(out.LpDelta)
	v.tokenAAmt = v.tokenAAmt.Add(out.TokenAOut)
	v.tokenBAmt = v.tokenBAmt.Add(out.TokenBOut)

	equityAfter, err := v.engine.EquityValue()
	if err != nil {
		v.lpAmt = v.lpAmt.Sub(out.LpDelta)
		v.tokenAAmt = v.tokenAAmt.Sub(out.TokenAOut)
		v.tokenBAmt = v.tokenBAmt.Sub(out.TokenBOut)
		return fmt.Errorf("post-settlement equity: %w", err)
	}

	v.mintFeeLocked()

	deltaEquity := equityAfter.Sub(cache.Snapshot.Equity)
	shares := sdkmath.LegacyZeroDec()
	if deltaEquity.IsPositive() {
		shares = deltaEquity.Quo(cache.Snapshot.ShareValue)
	}

	if shares.LT(cache.Params.MinSharesOut) {
		v.unwindDepositLocked(cache, out)
		v.clearPendingLocked()
		v.emitReceiptLocked(types.ActionReceipt{
			Kind:         types.ActionDeposit,
			RequestKey:   requestKey,
			Account:      cache.Params.Account,
			Success:      false,
			Message:      fmt.Sprintf("minted %s below minimum %s, refunded", shares, cache.Params.MinSharesOut),
			EquityBefore: cache.Snapshot.Equity,
			EquityAfter:  equityAfter,
		})
		v.logger.Warn().
			Str("request_key", requestKey).
			Str("shares", shares.String()).
			Str("min_shares_out", cache.Params.MinSharesOut.String()).
			Msg("Deposit refunded on slippage")
		return ErrSlippageExceeded
	}

	v.mintLocked(cache.Params.Account, shares)
	v.clearPendingLocked()
	v.emitReceiptLocked(types.ActionReceipt{
		Kind:         types.ActionDeposit,
		RequestKey:   requestKey,
		Account:      cache.Params.Account,
		Success:      true,
		SharesDelta:  shares,
		EquityBefore: cache.Snapshot.Equity,
		EquityAfter:  equityAfter,
	})

	v.logger.Info().
		Str("request_key", requestKey).
		Str("account", cache.Params.Account).
		Str("shares_minted", shares.String()).
		Msg("Deposit settled")
	return nil
}

// OnWithdrawExecuted settles an in-flight withdrawal: the venue's proceeds
// repay the proportional debt legs, the requested shares burn, and the
// remainder is released to the user.
func (v *Vault) OnWithdrawExecuted(requestKey string, out Outcome) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	out = normalizeOutcome(out)

	cache := v.pendingWithdraw
	if cache == nil || cache.RequestKey != requestKey {
		return ErrUnknownCallback
	}

	equityBefore := cache.Snapshot.Equity

	// Repay each leg from its own proceeds; anything the pool will not take
	// (debt smaller than expected) stays on the books as loose balance.
	spentA := v.repayFromProceedsLocked(v.lendingA, out.TokenAOut, cache.RepayA)
	leftoverA := out.TokenAOut.Sub(spentA)
	if leftoverA.IsPositive() {
		v.tokenAAmt = v.tokenAAmt.Add(leftoverA)
	}

	spentB := v.repayFromProceedsLocked(v.lendingB, out.TokenBOut, cache.RepayB)
	userOut := out.TokenBOut.Sub(spentB)
	if userOut.IsNegative() {
		userOut = sdkmath.LegacyZeroDec()
	}

	minOut, err := utils.NativeToDec(cache.Params.MinAmountOut, v.tokenB.Decimals)
	if err != nil {
		minOut = sdkmath.LegacyZeroDec()
	}

	if userOut.LT(minOut) {
		// Thin fill: the user keeps their shares and the proceeds stay in
		// the vault as loose tokenB for the next rebalance to reinvest.
		v.tokenBAmt = v.tokenBAmt.Add(userOut)
		v.clearPendingLocked()
		v.emitReceiptLocked(types.ActionReceipt{
			Kind:         types.ActionWithdraw,
			RequestKey:   requestKey,
			Account:      cache.Params.Account,
			Success:      false,
			Message:      fmt.Sprintf("proceeds %s below minimum %s, shares retained", userOut, minOut),
			EquityBefore: equityBefore,
		})
		v.logger.Warn().
			Str("request_key", requestKey).
			Str("user_out", userOut.String()).
			Str("min_out", minOut.String()).
			Msg("Withdrawal refunded on slippage")
		return ErrSlippageExceeded
	}

	if err := v.burnLocked(cache.Params.Account, cache.Params.Shares); err != nil {
		// Cannot happen while transfers do not exist; guarded anyway.
		v.tokenBAmt = v.tokenBAmt.Add(userOut)
		v.clearPendingLocked()
		return err
	}

	v.clearPendingLocked()
	v.emitReceiptLocked(types.ActionReceipt{
		Kind:         types.ActionWithdraw,
		RequestKey:   requestKey,
		Account:      cache.Params.Account,
		Success:      true,
		Message:      fmt.Sprintf("released %s %s", userOut, v.tokenB.Symbol),
		SharesDelta:  cache.Params.Shares.Neg(),
		EquityBefore: equityBefore,
	})

	v.logger.Info().
		Str("request_key", requestKey).
		Str("account", cache.Params.Account).
		Str("shares_burned", cache.Params.Shares.String()).
		Str("amount_out", userOut.String()).
		Msg("Withdrawal settled")
	return nil
}

// OnOrderExecuted settles an in-flight rebalance or compound, whichever slot
// holds the key.
func (v *Vault) OnOrderExecuted(requestKey string, out Outcome) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	out = normalizeOutcome(out)

	if c := v.pendingRebalance; c != nil && c.RequestKey == requestKey {
		return v.settleRebalanceLocked(c, out)
	}
	if c := v.pendingCompound; c != nil && c.RequestKey == requestKey {
		return v.settleCompoundLocked(c, out)
	}
	return ErrUnknownCallback
}

func (v *Vault) settleRebalanceLocked(cache *types.RebalanceCache, out Outcome) error {
	equityBefore := cache.Snapshot.Equity

	switch cache.Kind {
	case types.ActionRebalanceAdd:
		v.lpAmt = v.lpAmt.Add(out.LpDelta)
		v.tokenAAmt = v.tokenAAmt.Add(out.TokenAOut)
		v.tokenBAmt = v.tokenBAmt.Add(out.TokenBOut)

	case types.ActionRebalanceRemove:
		spentA := v.repayFromProceedsLocked(v.lendingA, out.TokenAOut, cache.RepayA)
		spentB := v.repayFromProceedsLocked(v.lendingB, out.TokenBOut, cache.RepayB)
		v.tokenAAmt = v.tokenAAmt.Add(out.TokenAOut.Sub(spentA))
		v.tokenBAmt = v.tokenBAmt.Add(out.TokenBOut.Sub(spentB))
	}

	kind := cache.Kind
	v.clearPendingLocked()
	v.emitReceiptLocked(types.ActionReceipt{
		Kind:         kind,
		RequestKey:   cache.RequestKey,
		Account:      cache.Params.Keeper,
		Success:      true,
		EquityBefore: equityBefore,
	})

	v.logger.Info().
		Str("request_key", cache.RequestKey).
		Str("kind", string(kind)).
		Msg("Rebalance settled")
	return nil
}

func (v *Vault) settleCompoundLocked(cache *types.CompoundCache, out Outcome) error {
	v.mintFeeLocked()
	v.lpAmt = v.lpAmt.Add(out.LpDelta)
	v.tokenAAmt = v.tokenAAmt.Add(out.TokenAOut)
	v.tokenBAmt = v.tokenBAmt.Add(out.TokenBOut)

	v.clearPendingLocked()
	v.emitReceiptLocked(types.ActionReceipt{
		Kind:         types.ActionCompound,
		RequestKey:   cache.RequestKey,
		Account:      cache.Params.Keeper,
		Success:      true,
		Message:      fmt.Sprintf("reinvested %s %s", cache.Params.RewardAmount, cache.Params.RewardToken.Symbol),
		EquityBefore: cache.Snapshot.Equity,
	})

	v.logger.Info().
		Str("request_key", cache.RequestKey).
		Str("lp_gained", out.LpDelta.String()).
		Msg("Compound settled")
	return nil
}

// OnCancelled resolves an in-flight action the venue could not fill: the
// submitted funds come back, freshly borrowed legs are repaid, and shares and
// holdings return to their pre-action state.
func (v *Vault) OnCancelled(requestKey string, reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var receipt types.ActionReceipt

	switch {
	case v.pendingDeposit != nil && v.pendingDeposit.RequestKey == requestKey:
		c := v.pendingDeposit
		v.repayLegsLocked(c.BorrowedA, c.BorrowedB)
		receipt = types.ActionReceipt{
			Kind:         types.ActionDeposit,
			Account:      c.Params.Account,
			Message:      fmt.Sprintf("cancelled: %s, principal refunded", reason),
			EquityBefore: c.Snapshot.Equity,
		}

	case v.pendingWithdraw != nil && v.pendingWithdraw.RequestKey == requestKey:
		c := v.pendingWithdraw
		v.lpAmt = v.lpAmt.Add(c.LpToRemove)
		receipt = types.ActionReceipt{
			Kind:         types.ActionWithdraw,
			Account:      c.Params.Account,
			Message:      fmt.Sprintf("cancelled: %s", reason),
			EquityBefore: c.Snapshot.Equity,
		}

	case v.pendingRebalance != nil && v.pendingRebalance.RequestKey == requestKey:
		c := v.pendingRebalance
		if c.Kind == types.ActionRebalanceAdd {
			v.repayLegsLocked(c.BorrowedA, c.BorrowedB)
		} else {
			v.lpAmt = v.lpAmt.Add(c.LpRemoved)
		}
		receipt = types.ActionReceipt{
			Kind:         c.Kind,
			Account:      c.Params.Keeper,
			Message:      fmt.Sprintf("cancelled: %s", reason),
			EquityBefore: c.Snapshot.Equity,
		}

	case v.pendingCompound != nil && v.pendingCompound.RequestKey == requestKey:
		c := v.pendingCompound
		receipt = types.ActionReceipt{
			Kind:         types.ActionCompound,
			Account:      c.Params.Keeper,
			Message:      fmt.Sprintf("cancelled: %s, reward returned", reason),
			EquityBefore: c.Snapshot.Equity,
		}

	default:
		return ErrUnknownCallback
	}

	v.clearPendingLocked()
	receipt.RequestKey = requestKey
	receipt.Success = false
	v.emitReceiptLocked(receipt)

	v.logger.Warn().
		Str("request_key", requestKey).
		Str("reason", reason).
		Msg("Action cancelled by venue")
	return nil
}

// clearPendingLocked empties every cache slot and returns the state machine
// to Open. A vault closed mid-flight stays Closed.
func (v *Vault) clearPendingLocked() {
	v.pendingDeposit = nil
	v.pendingWithdraw = nil
	v.pendingRebalance = nil
	v.pendingCompound = nil
	if v.status == types.VaultActionInProgress {
		v.status = types.VaultOpen
	}
}

// repayFromProceedsLocked repays up to want from the available proceeds and
// returns the amount actually consumed.
func (v *Vault) repayFromProceedsLocked(pool *lending.Pool, available, want sdkmath.LegacyDec) sdkmath.LegacyDec {
	amount := want
	if amount.GT(available) {
		amount = available
	}
	if !amount.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	repaid, err := pool.Repay(v.name, amount)
	if err != nil {
		v.logger.Error().Err(err).Msg("Debt repayment from proceeds failed")
		return sdkmath.LegacyZeroDec()
	}
	return repaid
}

// unwindDepositLocked reverses a settled deposit at oracle fair value: the
// received LP and proceeds leave the books, the borrowed legs are repaid,
// and the user's principal is considered refunded.
func (v *Vault) unwindDepositLocked(cache *types.DepositCache, out Outcome) {
	v.lpAmt = v.lpAmt.Sub(out.LpDelta)
	v.tokenAAmt = v.tokenAAmt.Sub(out.TokenAOut)
	v.tokenBAmt = v.tokenBAmt.Sub(out.TokenBOut)
	v.repayLegsLocked(cache.BorrowedA, cache.BorrowedB)
}
