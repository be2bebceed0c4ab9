/*

This file contains the vault's user- and keeper-facing entry points. Each
one follows the same accept sequence: gate on the state machine, validate the
request with zero tolerance, capture a health snapshot, compute and take out
the borrow legs, submit to the execution venue, and populate exactly one
pending-action cache slot.

*/

package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/rebalance"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/utils"
)

// Deposit accepts tokenB from a user, borrows the leverage legs, and submits
// the combined amounts to the venue for LP addition. Shares are minted at
// settlement, not here.
func (v *Vault) Deposit(p types.DepositParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureOpenLocked(); err != nil {
		return err
	}
	if p.Account == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidAmount)
	}
	if p.Amount.IsNil() || !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := v.validateRequestLocked(p.Slippage, p.ExecutionFee); err != nil {
		return err
	}
	if p.MinSharesOut.IsNil() {
		p.MinSharesOut = sdkmath.LegacyZeroDec()
	}

	// Deposits increase leverage, so an insolvent vault refuses them. An
	// empty vault has zero equity without being insolvent.
	if v.shareSupply.IsPositive() {
		equity, err := v.engine.EquityValue()
		if err != nil {
			return fmt.Errorf("equity check failed: %w", err)
		}
		if !equity.IsPositive() {
			return ErrVaultInsolvent
		}
	}

	amountDec, err := utils.NativeToDec(p.Amount, v.tokenB.Decimals)
	if err != nil {
		return err
	}

	snapshot, err := v.snapshotLocked()
	if err != nil {
		return err
	}
	priceA, err := v.oracle.PriceOf(v.tokenA)
	if err != nil {
		return fmt.Errorf("tokenA price: %w", err)
	}
	priceB, err := v.oracle.PriceOf(v.tokenB)
	if err != nil {
		return fmt.Errorf("tokenB price: %w", err)
	}
	lpUnit, err := v.lpUnitValueLocked()
	if err != nil {
		return fmt.Errorf("lp valuation: %w", err)
	}

	// The deposit is levered in the same proportions a rebalance would
	// target, so a healthy vault stays healthy through the deposit.
	depositValue := amountDec.Mul(priceB)
	legA, legB := rebalance.TargetDebtLegs(depositValue, v.params.LeverageTarget, v.params.DeltaMode)
	borrowA := legA.Quo(priceA)
	borrowB := legB.Quo(priceB)

	if borrowA.IsPositive() {
		if err := v.lendingA.Borrow(v.name, borrowA); err != nil {
			return fmt.Errorf("borrow tokenA leg: %w", err)
		}
	}
	if borrowB.IsPositive() {
		if err := v.lendingB.Borrow(v.name, borrowB); err != nil {
			if borrowA.IsPositive() {
				if _, rerr := v.lendingA.Repay(v.name, borrowA); rerr != nil {
					v.logger.Error().Err(rerr).Msg("Rollback repay of tokenA leg failed")
				}
			}
			return fmt.Errorf("borrow tokenB leg: %w", err)
		}
	}

	totalValue := depositValue.Add(legA).Add(legB)
	minLpOut := totalValue.Quo(lpUnit).Mul(sdkmath.LegacyOneDec().Sub(p.Slippage))

	key, err := v.venue.SubmitDeposit(DepositRequest{
		TokenAAmt:    borrowA,
		TokenBAmt:    amountDec.Add(borrowB),
		MinLpOut:     minLpOut,
		Slippage:     p.Slippage,
		ExecutionFee: p.ExecutionFee,
	})
	if err != nil {
		v.repayLegsLocked(borrowA, borrowB)
		return fmt.Errorf("venue submit: %w", err)
	}

	v.pendingDeposit = &types.DepositCache{
		Params:     p,
		RequestKey: key,
		Snapshot:   snapshot,
		BorrowedA:  borrowA,
		BorrowedB:  borrowB,
	}
	v.status = types.VaultActionInProgress

	v.logger.Info().
		Str("account", p.Account).
		Str("amount", amountDec.String()).
		Str("borrow_a", borrowA.String()).
		Str("borrow_b", borrowB.String()).
		Str("request_key", key).
		Msg("Deposit submitted")
	return nil
}

// Withdraw burns a user's shares worth of equity: a proportional slice of
// the LP position is removed at the venue and the matching debt slice is
// repaid at settlement. The share burn happens at settlement.
func (v *Vault) Withdraw(p types.WithdrawParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureOpenLocked(); err != nil {
		return err
	}
	if p.Account == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidAmount)
	}
	if p.Shares.IsNil() || !p.Shares.IsPositive() {
		return ErrInvalidAmount
	}
	if err := v.validateRequestLocked(p.Slippage, p.ExecutionFee); err != nil {
		return err
	}
	if p.MinAmountOut.IsNil() {
		p.MinAmountOut = sdkmath.ZeroInt()
	}

	// Accrue the performance fee before reading proportions so the exiting
	// user pays their elapsed share of it.
	v.mintFeeLocked()

	bal, ok := v.shareBalances[p.Account]
	if !ok || bal.LT(p.Shares) {
		return ErrInsufficientShares
	}

	snapshot, err := v.snapshotLocked()
	if err != nil {
		return err
	}
	priceA, err := v.oracle.PriceOf(v.tokenA)
	if err != nil {
		return fmt.Errorf("tokenA price: %w", err)
	}
	priceB, err := v.oracle.PriceOf(v.tokenB)
	if err != nil {
		return fmt.Errorf("tokenB price: %w", err)
	}
	lpUnit, err := v.lpUnitValueLocked()
	if err != nil {
		return fmt.Errorf("lp valuation: %w", err)
	}

	proportion := p.Shares.Quo(v.shareSupply)
	debtAmtA, debtAmtB := v.engine.DebtAmt()
	repayA := debtAmtA.Mul(proportion)
	repayB := debtAmtB.Mul(proportion)
	withdrawValue := snapshot.Equity.Mul(proportion)
	if withdrawValue.IsNegative() {
		return ErrVaultInsolvent
	}

	// Remove enough LP to cover both the user's slice and the debt repayment,
	// oversized by the buffer so a thin fill still covers the repays.
	totalValue := withdrawValue.Add(repayA.Mul(priceA)).Add(repayB.Mul(priceB))
	lpToRemove := totalValue.Quo(lpUnit).Mul(v.params.RemoveBufferFactor)
	if lpToRemove.GT(v.lpAmt) {
		lpToRemove = v.lpAmt
	}
	minTokenBOut := totalValue.Quo(priceB).Mul(sdkmath.LegacyOneDec().Sub(p.Slippage))

	// The LP leaves the books at submission; a cancel restores it.
	v.lpAmt = v.lpAmt.Sub(lpToRemove)

	key, err := v.venue.SubmitWithdraw(WithdrawRequest{
		LpAmt:        lpToRemove,
		MinTokenBOut: minTokenBOut,
		Slippage:     p.Slippage,
		ExecutionFee: p.ExecutionFee,
	})
	if err != nil {
		v.lpAmt = v.lpAmt.Add(lpToRemove)
		return fmt.Errorf("venue submit: %w", err)
	}

	v.pendingWithdraw = &types.WithdrawCache{
		Params:     p,
		RequestKey: key,
		Snapshot:   snapshot,
		LpToRemove: lpToRemove,
		RepayA:     repayA,
		RepayB:     repayB,
	}
	v.status = types.VaultActionInProgress

	v.logger.Info().
		Str("account", p.Account).
		Str("shares", p.Shares.String()).
		Str("lp_to_remove", lpToRemove.String()).
		Str("request_key", key).
		Msg("Withdrawal submitted")
	return nil
}

// RebalanceAdd borrows additional legs and adds them to the LP position.
// Keeper only; refused when the decision engine does not call for an add.
func (v *Vault) RebalanceAdd(p types.RebalanceParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureOpenLocked(); err != nil {
		return err
	}
	if err := v.requireKeeperLocked(p.Keeper); err != nil {
		return err
	}
	if err := v.validateRequestLocked(p.Slippage, p.ExecutionFee); err != nil {
		return err
	}

	snapshot, in, err := v.decisionInputsLocked()
	if err != nil {
		return err
	}
	// Adding leverage to an insolvent vault digs the hole deeper.
	if !in.Equity.IsPositive() {
		return ErrVaultInsolvent
	}

	action, err := rebalance.Decide(in, v.params)
	if err != nil {
		return err
	}
	switch action.Kind {
	case rebalance.NoAction:
		return ErrRebalanceNotNeeded
	case rebalance.Remove:
		return ErrWrongRebalanceDirection
	}

	if action.BorrowA.IsPositive() {
		if err := v.lendingA.Borrow(v.name, action.BorrowA); err != nil {
			return fmt.Errorf("borrow tokenA leg: %w", err)
		}
	}
	if action.BorrowB.IsPositive() {
		if err := v.lendingB.Borrow(v.name, action.BorrowB); err != nil {
			if action.BorrowA.IsPositive() {
				if _, rerr := v.lendingA.Repay(v.name, action.BorrowA); rerr != nil {
					v.logger.Error().Err(rerr).Msg("Rollback repay of tokenA leg failed")
				}
			}
			return fmt.Errorf("borrow tokenB leg: %w", err)
		}
	}

	key, err := v.venue.SubmitOrder(OrderRequest{
		Kind:         types.ActionRebalanceAdd,
		AddTokenAAmt: action.BorrowA,
		AddTokenBAmt: action.BorrowB,
		Slippage:     p.Slippage,
		ExecutionFee: p.ExecutionFee,
	})
	if err != nil {
		v.repayLegsLocked(action.BorrowA, action.BorrowB)
		return fmt.Errorf("venue submit: %w", err)
	}

	v.pendingRebalance = &types.RebalanceCache{
		Kind:       types.ActionRebalanceAdd,
		Params:     p,
		RequestKey: key,
		Snapshot:   snapshot,
		BorrowedA:  action.BorrowA,
		BorrowedB:  action.BorrowB,
	}
	v.status = types.VaultActionInProgress

	v.logger.Info().
		Str("reason", action.Reason).
		Str("borrow_a", action.BorrowA.String()).
		Str("borrow_b", action.BorrowB.String()).
		Str("request_key", key).
		Msg("Rebalance add submitted")
	return nil
}

// RebalanceRemove removes LP and repays debt legs at settlement. Keeper
// only. Unlike RebalanceAdd this remains available while insolvent since it
// reduces leverage.
func (v *Vault) RebalanceRemove(p types.RebalanceParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureOpenLocked(); err != nil {
		return err
	}
	if err := v.requireKeeperLocked(p.Keeper); err != nil {
		return err
	}
	if err := v.validateRequestLocked(p.Slippage, p.ExecutionFee); err != nil {
		return err
	}

	snapshot, in, err := v.decisionInputsLocked()
	if err != nil {
		return err
	}
	action, err := rebalance.Decide(in, v.params)
	if err != nil {
		return err
	}
	switch action.Kind {
	case rebalance.NoAction:
		return ErrRebalanceNotNeeded
	case rebalance.Add:
		return ErrWrongRebalanceDirection
	}

	lpToRemove := action.LpAmount
	if lpToRemove.GT(v.lpAmt) {
		lpToRemove = v.lpAmt
	}
	if !lpToRemove.IsPositive() {
		return ErrRebalanceNotNeeded
	}
	v.lpAmt = v.lpAmt.Sub(lpToRemove)

	key, err := v.venue.SubmitOrder(OrderRequest{
		Kind:         types.ActionRebalanceRemove,
		RemoveLpAmt:  lpToRemove,
		Slippage:     p.Slippage,
		ExecutionFee: p.ExecutionFee,
	})
	if err != nil {
		v.lpAmt = v.lpAmt.Add(lpToRemove)
		return fmt.Errorf("venue submit: %w", err)
	}

	v.pendingRebalance = &types.RebalanceCache{
		Kind:       types.ActionRebalanceRemove,
		Params:     p,
		RequestKey: key,
		Snapshot:   snapshot,
		RepayA:     action.RepayA,
		RepayB:     action.RepayB,
		LpRemoved:  lpToRemove,
	}
	v.status = types.VaultActionInProgress

	v.logger.Info().
		Str("reason", action.Reason).
		Str("lp_removed", lpToRemove.String()).
		Str("repay_a", action.RepayA.String()).
		Str("repay_b", action.RepayB.String()).
		Str("request_key", key).
		Msg("Rebalance remove submitted")
	return nil
}

// Compound submits harvested reward tokens to the venue to be swapped into
// tokenB and reinvested into the LP position. Keeper only.
func (v *Vault) Compound(p types.CompoundParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ensureOpenLocked(); err != nil {
		return err
	}
	if err := v.requireKeeperLocked(p.Keeper); err != nil {
		return err
	}
	if p.RewardAmount.IsNil() || !p.RewardAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := v.validateRequestLocked(p.Slippage, p.ExecutionFee); err != nil {
		return err
	}

	rewardDec, err := utils.NativeToDec(p.RewardAmount, p.RewardToken.Decimals)
	if err != nil {
		return err
	}
	snapshot, err := v.snapshotLocked()
	if err != nil {
		return err
	}

	key, err := v.venue.SubmitOrder(OrderRequest{
		Kind:         types.ActionCompound,
		SwapToken:    p.RewardToken,
		SwapAmt:      rewardDec,
		Slippage:     p.Slippage,
		ExecutionFee: p.ExecutionFee,
	})
	if err != nil {
		return fmt.Errorf("venue submit: %w", err)
	}

	v.pendingCompound = &types.CompoundCache{
		Params:     p,
		RequestKey: key,
		Snapshot:   snapshot,
	}
	v.status = types.VaultActionInProgress

	v.logger.Info().
		Str("reward_token", p.RewardToken.Symbol).
		Str("reward_amount", rewardDec.String()).
		Str("request_key", key).
		Msg("Compound submitted")
	return nil
}

func (v *Vault) requireKeeperLocked(keeper string) error {
	if keeper == "" || !v.keepers[keeper] {
		return ErrNotKeeper
	}
	return nil
}

// decisionInputsLocked gathers the live metrics the decision engine consumes.
func (v *Vault) decisionInputsLocked() (types.HealthSnapshot, rebalance.Inputs, error) {
	snapshot, err := v.snapshotLocked()
	if err != nil {
		return types.HealthSnapshot{}, rebalance.Inputs{}, err
	}
	debtA, debtB, err := v.engine.DebtValues()
	if err != nil {
		return types.HealthSnapshot{}, rebalance.Inputs{}, err
	}
	priceA, err := v.oracle.PriceOf(v.tokenA)
	if err != nil {
		return types.HealthSnapshot{}, rebalance.Inputs{}, err
	}
	priceB, err := v.oracle.PriceOf(v.tokenB)
	if err != nil {
		return types.HealthSnapshot{}, rebalance.Inputs{}, err
	}
	lpUnit, err := v.lpUnitValueLocked()
	if err != nil {
		return types.HealthSnapshot{}, rebalance.Inputs{}, err
	}

	return snapshot, rebalance.Inputs{
		Equity:      snapshot.Equity,
		DebtValueA:  debtA,
		DebtValueB:  debtB,
		DebtRatio:   snapshot.DebtRatio,
		Delta:       snapshot.Delta,
		LpUnitValue: lpUnit,
		PriceA:      priceA,
		PriceB:      priceB,
	}, nil
}

// repayLegsLocked returns freshly borrowed legs to the pools on a failed
// submission.
func (v *Vault) repayLegsLocked(amtA, amtB sdkmath.LegacyDec) {
	if amtA.IsPositive() {
		if _, err := v.lendingA.Repay(v.name, amtA); err != nil {
			v.logger.Error().Err(err).Msg("Repay of tokenA leg failed")
		}
	}
	if amtB.IsPositive() {
		if _, err := v.lendingB.Repay(v.name, amtB); err != nil {
			v.logger.Error().Err(err).Msg("Repay of tokenB leg failed")
		}
	}
}
