/*

This file contains the liquidity-pool valuation: the USD value of one unit of
an LP share computed fresh from pool reserves and oracle prices on every call.

*/

package oracle

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/utils"
)

var (
	ErrInvalidPoolState = errors.New("pool state is invalid")
)

// PoolState is one observation of the pool backing the strategy's LP
// position. Reserves are token-native integer amounts; LpSupply is the total
// number of LP shares outstanding in 18-decimal units.
type PoolState struct {
	ReserveA sdkmath.Int
	ReserveB sdkmath.Int
	LpSupply sdkmath.LegacyDec
}

// LPValue returns the USD value of one LP share. Reserves and prices both
// move continuously, so the result is never cached; callers re-read on every
// valuation.
func (o *Oracle) LPValue(state PoolState, tokenA, tokenB types.Token) (sdkmath.LegacyDec, error) {
	if state.ReserveA.IsNil() || state.ReserveA.IsNegative() ||
		state.ReserveB.IsNil() || state.ReserveB.IsNegative() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: negative or nil reserves", ErrInvalidPoolState)
	}
	if state.LpSupply.IsNil() || !state.LpSupply.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: LP supply must be positive", ErrInvalidPoolState)
	}

	priceA, err := o.PriceOf(tokenA)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	priceB, err := o.PriceOf(tokenB)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	reserveA, err := utils.NativeToDec(state.ReserveA, tokenA.Decimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("reserve A conversion failed: %w", err)
	}
	reserveB, err := utils.NativeToDec(state.ReserveB, tokenB.Decimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("reserve B conversion failed: %w", err)
	}

	tvl := reserveA.Mul(priceA).Add(reserveB.Mul(priceB))
	return tvl.Quo(state.LpSupply), nil
}
