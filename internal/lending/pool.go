/*

This file contains the lending pool the strategy borrows from. Each pool
lends a single asset against the kinked interest-rate model. Interest accrues
lazily: outstanding debt is brought current on every touch of a position, so
pools shared across many borrower vaults never need a global accrual timer.

*/

package lending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/rates"
	"github.com/parallax-fi/dnvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrBorrowerNotApproved = errors.New("borrower is not approved")
	ErrCapacityExceeded    = errors.New("borrow would exceed pool capacity")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientLiquidity = errors.New("borrow would exceed supplied liquidity")
)

// SecondsPerYear is the accrual denominator for the simple-interest update.
const SecondsPerYear = 365 * 24 * 60 * 60

// Position tracks one borrower's debt. It is created on first borrow and
// destroyed on full repayment.
type Position struct {
	Principal   sdkmath.LegacyDec // whole-token amount, interest folded in on accrual
	LastAccrued time.Time
}

// Pool is a single-asset lending pool.
type Pool struct {
	mu sync.Mutex

	asset         types.Token
	model         *rates.Model
	totalSupplied sdkmath.LegacyDec
	totalBorrowed sdkmath.LegacyDec
	borrowCap     sdkmath.LegacyDec
	approved      map[string]bool
	positions     map[string]*Position

	now    func() time.Time
	logger zerolog.Logger
}

// NewPool creates a lending pool for one asset.
func NewPool(asset types.Token, model *rates.Model, supplied, borrowCap sdkmath.LegacyDec) (*Pool, error) {
	if model == nil {
		return nil, errors.New("rate model cannot be nil")
	}
	if supplied.IsNil() || supplied.IsNegative() {
		return nil, fmt.Errorf("%w: supplied liquidity", ErrInvalidAmount)
	}
	if borrowCap.IsNil() || borrowCap.IsNegative() {
		return nil, fmt.Errorf("%w: borrow cap", ErrInvalidAmount)
	}

	return &Pool{
		asset:         asset,
		model:         model,
		totalSupplied: supplied,
		totalBorrowed: sdkmath.LegacyZeroDec(),
		borrowCap:     borrowCap,
		approved:      make(map[string]bool),
		positions:     make(map[string]*Position),
		now:           time.Now,
		logger:        logger.GetForComponent("lending_pool").With().Str("asset", asset.Symbol).Logger(),
	}, nil
}

// WithClock overrides the time source. Used by tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Asset returns the token this pool lends.
func (p *Pool) Asset() types.Token {
	return p.asset
}

// ApproveBorrower allow-lists a borrower vault. Privileged, called by the
// pool operator when a new strategy vault is deployed against the pool.
func (p *Pool) ApproveBorrower(borrower string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approved[borrower] = true
	p.logger.Info().Str("borrower", borrower).Msg("Borrower approved")
}

// RevokeBorrower removes a borrower from the allow-list. Existing debt still
// accrues and can be repaid.
func (p *Pool) RevokeBorrower(borrower string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.approved, borrower)
}

// Utilization is the fraction of supplied liquidity currently borrowed.
func (p *Pool) Utilization() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utilizationLocked()
}

func (p *Pool) utilizationLocked() sdkmath.LegacyDec {
	if p.totalSupplied.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	return p.totalBorrowed.Quo(p.totalSupplied)
}

// BorrowRate is the current per-year borrow rate at present utilization.
func (p *Pool) BorrowRate() sdkmath.LegacyDec {
	return p.model.BorrowRate(p.Utilization())
}

// accrueLocked folds interest since the last touch into the position's
// principal: debt *= 1 + rate * elapsed / secondsPerYear.
func (p *Pool) accrueLocked(pos *Position) {
	now := p.now()
	elapsed := now.Sub(pos.LastAccrued)
	if elapsed <= 0 {
		pos.LastAccrued = now
		return
	}

	rate := p.model.BorrowRate(p.utilizationLocked())
	factor := sdkmath.LegacyOneDec().Add(
		rate.MulInt64(int64(elapsed.Seconds())).QuoInt64(SecondsPerYear))

	accrued := pos.Principal.Mul(factor).Sub(pos.Principal)
	pos.Principal = pos.Principal.Add(accrued)
	p.totalBorrowed = p.totalBorrowed.Add(accrued)
	pos.LastAccrued = now
}

// Borrow draws amount for the given borrower. Fails with
// ErrBorrowerNotApproved unless the borrower was allow-listed and with
// ErrCapacityExceeded if total borrows would exceed the configured ceiling.
func (p *Pool) Borrow(borrower string, amount sdkmath.LegacyDec) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.approved[borrower] {
		return fmt.Errorf("%w: %s", ErrBorrowerNotApproved, borrower)
	}

	pos, ok := p.positions[borrower]
	if ok {
		p.accrueLocked(pos)
	}

	newTotal := p.totalBorrowed.Add(amount)
	if newTotal.GT(p.borrowCap) {
		return fmt.Errorf("%w: %s + %s > cap %s", ErrCapacityExceeded, p.totalBorrowed, amount, p.borrowCap)
	}
	if newTotal.GT(p.totalSupplied) {
		return fmt.Errorf("%w: %s + %s > supplied %s", ErrInsufficientLiquidity, p.totalBorrowed, amount, p.totalSupplied)
	}

	// The position is created only once the checks pass; a rejected first
	// borrow must leave no trace.
	if !ok {
		pos = &Position{Principal: sdkmath.LegacyZeroDec(), LastAccrued: p.now()}
		p.positions[borrower] = pos
	}
	pos.Principal = pos.Principal.Add(amount)
	p.totalBorrowed = newTotal

	p.logger.Debug().
		Str("borrower", borrower).
		Str("amount", amount.String()).
		Str("utilization", p.utilizationLocked().String()).
		Msg("Borrow executed")

	return nil
}

// Repay pays down the borrower's debt, clamped to what is owed, and returns
// the amount actually applied. The position is destroyed on full repayment.
func (p *Pool) Repay(borrower string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if amount.IsNil() || amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[borrower]
	if !ok {
		return sdkmath.LegacyZeroDec(), nil
	}
	p.accrueLocked(pos)

	repaid := amount
	if repaid.GT(pos.Principal) {
		repaid = pos.Principal
	}

	pos.Principal = pos.Principal.Sub(repaid)
	p.totalBorrowed = p.totalBorrowed.Sub(repaid)

	if pos.Principal.IsZero() {
		delete(p.positions, borrower)
	}

	p.logger.Debug().
		Str("borrower", borrower).
		Str("repaid", repaid.String()).
		Msg("Repay executed")

	return repaid, nil
}

// DebtOf returns the borrower's current debt including interest accrued up to
// now. Read-only: the accrual is computed virtually without mutating state.
func (p *Pool) DebtOf(borrower string) sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[borrower]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}

	elapsed := p.now().Sub(pos.LastAccrued)
	if elapsed <= 0 {
		return pos.Principal
	}

	rate := p.model.BorrowRate(p.utilizationLocked())
	factor := sdkmath.LegacyOneDec().Add(
		rate.MulInt64(int64(elapsed.Seconds())).QuoInt64(SecondsPerYear))
	return pos.Principal.Mul(factor)
}

// TotalBorrowed returns the pool-wide outstanding principal.
func (p *Pool) TotalBorrowed() sdkmath.LegacyDec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBorrowed
}
