package lending

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/dnvm/internal/rates"
	"github.com/parallax-fi/dnvm/internal/types"
)

var testAsset = types.Token{Symbol: "USDC", Address: "0xusdc", Decimals: 6}

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func newTestPool(t *testing.T, supplied, cap string) (*Pool, *time.Time) {
	t.Helper()
	model, err := rates.NewModel(rates.Params{
		BaseRate:       dec("0"),
		Multiplier:     dec("0.125"),
		JumpMultiplier: dec("2.5"),
		Kink1:          dec("0.8"),
		Kink2:          dec("0.9"),
	}, rates.MaxParams{
		MaxBaseRate:       dec("0.1"),
		MaxMultiplier:     dec("0.5"),
		MaxJumpMultiplier: dec("5"),
	})
	require.NoError(t, err)

	pool, err := NewPool(testAsset, model, dec(supplied), dec(cap))
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pool.WithClock(func() time.Time { return now })
	return pool, &now
}

func TestBorrowRequiresApproval(t *testing.T) {
	pool, _ := newTestPool(t, "1000", "900")

	err := pool.Borrow("vault-1", dec("100"))
	assert.ErrorIs(t, err, ErrBorrowerNotApproved)

	pool.ApproveBorrower("vault-1")
	require.NoError(t, pool.Borrow("vault-1", dec("100")))
	assert.Equal(t, dec("100"), pool.DebtOf("vault-1"))

	pool.RevokeBorrower("vault-1")
	err = pool.Borrow("vault-1", dec("1"))
	assert.ErrorIs(t, err, ErrBorrowerNotApproved)

	// Existing debt survives revocation and can still be repaid.
	repaid, err := pool.Repay("vault-1", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, dec("100"), repaid)
}

func TestBorrowCapacityLimits(t *testing.T) {
	pool, _ := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")

	err := pool.Borrow("vault-1", dec("901"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, pool.Borrow("vault-1", dec("900")))

	err = pool.Borrow("vault-1", dec("1"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestBorrowLiquidityLimit(t *testing.T) {
	// Cap above supply: the liquidity bound binds first.
	pool, _ := newTestPool(t, "500", "900")
	pool.ApproveBorrower("vault-1")

	err := pool.Borrow("vault-1", dec("600"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestRejectedFirstBorrowLeavesNoPosition(t *testing.T) {
	pool, _ := newTestPool(t, "500", "900")
	pool.ApproveBorrower("vault-1")

	err := pool.Borrow("vault-1", dec("600"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, tracked := pool.positions["vault-1"]
	assert.False(t, tracked)
	assert.True(t, pool.DebtOf("vault-1").IsZero())
	assert.True(t, pool.Utilization().IsZero())

	// A capacity rejection must be just as clean.
	err = pool.Borrow("vault-1", dec("901"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	_, tracked = pool.positions["vault-1"]
	assert.False(t, tracked)
}

func TestBorrowRejectsBadAmounts(t *testing.T) {
	pool, _ := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")

	assert.ErrorIs(t, pool.Borrow("vault-1", dec("0")), ErrInvalidAmount)
	assert.ErrorIs(t, pool.Borrow("vault-1", dec("-5")), ErrInvalidAmount)
	assert.ErrorIs(t, pool.Borrow("vault-1", sdkmath.LegacyDec{}), ErrInvalidAmount)
}

func TestLazyAccrual(t *testing.T) {
	pool, now := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")

	require.NoError(t, pool.Borrow("vault-1", dec("100")))

	// Utilization 0.1 on the rising segment: rate = 0.1/0.8 * 0.125.
	assert.Equal(t, dec("0.015625"), pool.BorrowRate())

	// One year elapses: simple interest folds into the principal.
	*now = now.Add(SecondsPerYear * time.Second)
	assert.Equal(t, dec("101.5625"), pool.DebtOf("vault-1"))

	// DebtOf is read-only; a second read is identical.
	assert.Equal(t, dec("101.5625"), pool.DebtOf("vault-1"))
}

func TestAccrualFoldsOnTouch(t *testing.T) {
	pool, now := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")
	require.NoError(t, pool.Borrow("vault-1", dec("100")))

	*now = now.Add(SecondsPerYear * time.Second)

	// Touching the position via Repay folds accrued interest in, so the
	// pool-wide total reflects it too.
	repaid, err := pool.Repay("vault-1", dec("1.5625"))
	require.NoError(t, err)
	assert.Equal(t, dec("1.5625"), repaid)
	assert.Equal(t, dec("100"), pool.DebtOf("vault-1"))
	assert.Equal(t, dec("100"), pool.TotalBorrowed())
}

func TestRepayClampsToDebt(t *testing.T) {
	pool, _ := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")
	require.NoError(t, pool.Borrow("vault-1", dec("100")))

	repaid, err := pool.Repay("vault-1", dec("250"))
	require.NoError(t, err)
	assert.Equal(t, dec("100"), repaid)
	assert.True(t, pool.DebtOf("vault-1").IsZero())
	assert.True(t, pool.TotalBorrowed().IsZero())

	// Repaying with no position is a no-op.
	repaid, err = pool.Repay("vault-1", dec("10"))
	require.NoError(t, err)
	assert.True(t, repaid.IsZero())
}

func TestUtilizationTracksBorrows(t *testing.T) {
	pool, _ := newTestPool(t, "1000", "900")
	pool.ApproveBorrower("vault-1")
	pool.ApproveBorrower("vault-2")

	require.NoError(t, pool.Borrow("vault-1", dec("300")))
	require.NoError(t, pool.Borrow("vault-2", dec("200")))
	assert.Equal(t, dec("0.5"), pool.Utilization())

	// Each borrower's position is independent.
	assert.Equal(t, dec("300"), pool.DebtOf("vault-1"))
	assert.Equal(t, dec("200"), pool.DebtOf("vault-2"))

	_, err := pool.Repay("vault-2", dec("200"))
	require.NoError(t, err)
	assert.Equal(t, dec("0.3"), pool.Utilization())
}
