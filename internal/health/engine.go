/*

This file contains the strategy health engine: pure, read-only computations of
equity, debt, delta, leverage, and share value over live lending-pool debt,
oracle prices, and the vault's held balances. Nothing here mutates state; the
vault recomputes these values on every query and snapshots them before each
asynchronous action.

*/

package health

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrZeroEquity      = errors.New("equity is zero or negative")
	ErrInvalidHoldings = errors.New("holdings are invalid")
)

// DebtReader exposes one lending pool's view of the vault's debt.
type DebtReader interface {
	DebtOf(borrower string) sdkmath.LegacyDec
	Asset() types.Token
}

// PoolReader supplies a fresh observation of the liquidity pool backing the
// strategy's LP position.
type PoolReader interface {
	PoolState() (oracle.PoolState, error)
}

// HoldingsReader exposes the vault's held balances. Amounts are whole-token
// 18-decimal values.
type HoldingsReader interface {
	LpAmt() sdkmath.LegacyDec
	TokenAAmt() sdkmath.LegacyDec
	TokenBAmt() sdkmath.LegacyDec
	ShareSupply() sdkmath.LegacyDec
}

// Engine computes the vault's health metrics.
type Engine struct {
	oracle   *oracle.Oracle
	pool     PoolReader
	lendingA DebtReader
	lendingB DebtReader
	holdings HoldingsReader
	tokenA   types.Token
	tokenB   types.Token
	borrower string
}

// NewEngine wires the engine to its read-only collaborators.
func NewEngine(
	o *oracle.Oracle,
	pool PoolReader,
	lendingA, lendingB DebtReader,
	holdings HoldingsReader,
	tokenA, tokenB types.Token,
	borrower string,
) (*Engine, error) {
	if o == nil || pool == nil || lendingA == nil || lendingB == nil || holdings == nil {
		return nil, errors.New("health engine dependencies cannot be nil")
	}
	if borrower == "" {
		return nil, errors.New("borrower identity cannot be empty")
	}
	return &Engine{
		oracle:   o,
		pool:     pool,
		lendingA: lendingA,
		lendingB: lendingB,
		holdings: holdings,
		tokenA:   tokenA,
		tokenB:   tokenB,
		borrower: borrower,
	}, nil
}

// AssetValue is the USD value of the LP position plus any loose token
// balances the vault holds.
func (e *Engine) AssetValue() (sdkmath.LegacyDec, error) {
	lpAmt := e.holdings.LpAmt()
	if lpAmt.IsNil() || lpAmt.IsNegative() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: LP amount", ErrInvalidHoldings)
	}

	lpValue := sdkmath.LegacyZeroDec()
	if lpAmt.IsPositive() {
		state, err := e.pool.PoolState()
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		unit, err := e.oracle.LPValue(state, e.tokenA, e.tokenB)
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		lpValue = lpAmt.Mul(unit)
	}

	priceA, err := e.oracle.PriceOf(e.tokenA)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	priceB, err := e.oracle.PriceOf(e.tokenB)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	loose := e.holdings.TokenAAmt().Mul(priceA).Add(e.holdings.TokenBAmt().Mul(priceB))
	return lpValue.Add(loose), nil
}

// DebtValue is the USD value of both borrow legs.
func (e *Engine) DebtValue() (sdkmath.LegacyDec, error) {
	valueA, valueB, err := e.DebtValues()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return valueA.Add(valueB), nil
}

// DebtValues returns the USD value of the tokenA and tokenB borrow legs
// separately, for rebalance sizing.
func (e *Engine) DebtValues() (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	priceA, err := e.oracle.PriceOf(e.tokenA)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	priceB, err := e.oracle.PriceOf(e.tokenB)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}

	valueA := e.lendingA.DebtOf(e.borrower).Mul(priceA)
	valueB := e.lendingB.DebtOf(e.borrower).Mul(priceB)
	return valueA, valueB, nil
}

// DebtAmt returns the whole-token debt amounts for both legs.
func (e *Engine) DebtAmt() (sdkmath.LegacyDec, sdkmath.LegacyDec) {
	return e.lendingA.DebtOf(e.borrower), e.lendingB.DebtOf(e.borrower)
}

// AssetAmt returns the vault's tokenA and tokenB composition: the share of
// pool reserves its LP amount represents plus loose balances.
func (e *Engine) AssetAmt() (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	amtA := e.holdings.TokenAAmt()
	amtB := e.holdings.TokenBAmt()

	lpAmt := e.holdings.LpAmt()
	if !lpAmt.IsPositive() {
		return amtA, amtB, nil
	}

	state, err := e.pool.PoolState()
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	reserveA, err := utils.NativeToDec(state.ReserveA, e.tokenA.Decimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}
	reserveB, err := utils.NativeToDec(state.ReserveB, e.tokenB.Decimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), err
	}

	share := lpAmt.Quo(state.LpSupply)
	return amtA.Add(share.Mul(reserveA)), amtB.Add(share.Mul(reserveB)), nil
}

// EquityValue is assetValue minus debtValue. A zero or negative result is a
// first-class insolvency state, not an error; callers must check the sign.
func (e *Engine) EquityValue() (sdkmath.LegacyDec, error) {
	assets, err := e.AssetValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	debt, err := e.DebtValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return assets.Sub(debt), nil
}

// DebtRatio is debtValue / assetValue, zero when the vault holds nothing.
func (e *Engine) DebtRatio() (sdkmath.LegacyDec, error) {
	assets, err := e.AssetValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if assets.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}
	debt, err := e.DebtValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return debt.Quo(assets), nil
}

// Leverage is assetValue / equityValue. Fails with ErrZeroEquity when equity
// is not positive.
func (e *Engine) Leverage() (sdkmath.LegacyDec, error) {
	assets, err := e.AssetValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	equity, err := e.EquityValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !equity.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroEquity
	}
	return assets.Quo(equity), nil
}

// Delta is the net tokenA exposure (held minus owed) priced in USD and
// normalized by equity. Zero under perfect neutrality; positive means net
// long tokenA.
func (e *Engine) Delta() (sdkmath.LegacyDec, error) {
	equity, err := e.EquityValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if !equity.IsPositive() {
		return sdkmath.LegacyZeroDec(), ErrZeroEquity
	}

	heldA, _, err := e.AssetAmt()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	debtA := e.lendingA.DebtOf(e.borrower)

	priceA, err := e.oracle.PriceOf(e.tokenA)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return heldA.Sub(debtA).Mul(priceA).Quo(equity), nil
}

// ShareValue is equityValue / totalSharesOutstanding, defined as 1.0 when the
// supply is zero so the first deposit mints at par.
func (e *Engine) ShareValue() (sdkmath.LegacyDec, error) {
	supply := e.holdings.ShareSupply()
	if supply.IsNil() || supply.IsNegative() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: share supply", ErrInvalidHoldings)
	}
	if supply.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	equity, err := e.EquityValue()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if equity.IsNegative() {
		equity = sdkmath.LegacyZeroDec()
	}
	return equity.Quo(supply), nil
}

// Snapshot captures the health metrics the two-phase protocol validates
// against after settlement. Fails if any underlying oracle read fails; the
// vault must not act on a partial snapshot.
func (e *Engine) Snapshot() (types.HealthSnapshot, error) {
	equity, err := e.EquityValue()
	if err != nil {
		return types.HealthSnapshot{}, err
	}
	debtRatio, err := e.DebtRatio()
	if err != nil {
		return types.HealthSnapshot{}, err
	}

	delta := sdkmath.LegacyZeroDec()
	if equity.IsPositive() {
		delta, err = e.Delta()
		if err != nil {
			return types.HealthSnapshot{}, err
		}
	}

	shareValue, err := e.ShareValue()
	if err != nil {
		return types.HealthSnapshot{}, err
	}

	return types.HealthSnapshot{
		Equity:     equity,
		DebtRatio:  debtRatio,
		Delta:      delta,
		LpAmt:      e.holdings.LpAmt(),
		ShareValue: shareValue,
	}, nil
}
