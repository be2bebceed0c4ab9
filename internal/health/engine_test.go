package health

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/types"
)

var (
	testTokenA = types.Token{Symbol: "WETH", Address: "0xeth", Decimals: 18}
	testTokenB = types.Token{Symbol: "USDC", Address: "0xusdc", Decimals: 6}
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

type stubDebt struct {
	asset types.Token
	debt  sdkmath.LegacyDec
}

func (s *stubDebt) DebtOf(string) sdkmath.LegacyDec { return s.debt }
func (s *stubDebt) Asset() types.Token              { return s.asset }

type stubPool struct {
	state oracle.PoolState
	err   error
}

func (s *stubPool) PoolState() (oracle.PoolState, error) { return s.state, s.err }

type stubHoldings struct {
	lp, amtA, amtB, supply sdkmath.LegacyDec
}

func (s *stubHoldings) LpAmt() sdkmath.LegacyDec       { return s.lp }
func (s *stubHoldings) TokenAAmt() sdkmath.LegacyDec   { return s.amtA }
func (s *stubHoldings) TokenBAmt() sdkmath.LegacyDec   { return s.amtB }
func (s *stubHoldings) ShareSupply() sdkmath.LegacyDec { return s.supply }

type fixture struct {
	engine   *Engine
	debtA    *stubDebt
	debtB    *stubDebt
	holdings *stubHoldings
	feedA    *oracle.StaticFeed
	feedB    *oracle.StaticFeed
}

// newFixture builds a vault worth inspecting: 100 LP over a 1000-share pool
// of 1000 WETH ($2) and 2000 USDC, owing 50 WETH and 100 USDC against 100
// shares.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	feedA := oracle.NewStaticFeed(dec("2"), now)
	feedB := oracle.NewStaticFeed(dec("1"), now)

	o := oracle.New().WithClock(func() time.Time { return now })
	for _, w := range []struct {
		token types.Token
		feed  *oracle.StaticFeed
	}{{testTokenA, feedA}, {testTokenB, feedB}} {
		require.NoError(t, o.AddTokenPriceFeed(w.token, w.feed))
		require.NoError(t, o.AddTokenMaxDeviation(w.token, dec("0.05")))
		require.NoError(t, o.AddTokenMaxDelay(w.token, 5*time.Minute))
	}

	pool := &stubPool{state: oracle.PoolState{
		ReserveA: sdkmath.NewIntWithDecimal(1000, 18),
		ReserveB: sdkmath.NewIntWithDecimal(2000, 6),
		LpSupply: dec("1000"),
	}}

	debtA := &stubDebt{asset: testTokenA, debt: dec("50")}
	debtB := &stubDebt{asset: testTokenB, debt: dec("100")}
	holdings := &stubHoldings{
		lp:     dec("100"),
		amtA:   dec("0"),
		amtB:   dec("0"),
		supply: dec("100"),
	}

	engine, err := NewEngine(o, pool, debtA, debtB, holdings, testTokenA, testTokenB, "vault-1")
	require.NoError(t, err)

	return &fixture{engine: engine, debtA: debtA, debtB: debtB, holdings: holdings, feedA: feedA, feedB: feedB}
}

func TestAssetAndDebtValues(t *testing.T) {
	f := newFixture(t)

	// 100 LP at unit value (2*1000 + 2000)/1000 = 4.
	assets, err := f.engine.AssetValue()
	require.NoError(t, err)
	assert.Equal(t, dec("400"), assets)

	debt, err := f.engine.DebtValue()
	require.NoError(t, err)
	assert.Equal(t, dec("200"), debt) // 50*2 + 100*1

	valueA, valueB, err := f.engine.DebtValues()
	require.NoError(t, err)
	assert.Equal(t, dec("100"), valueA)
	assert.Equal(t, dec("100"), valueB)
}

func TestAssetValueIncludesLooseBalances(t *testing.T) {
	f := newFixture(t)
	f.holdings.amtA = dec("10") // $20
	f.holdings.amtB = dec("5")  // $5

	assets, err := f.engine.AssetValue()
	require.NoError(t, err)
	assert.Equal(t, dec("425"), assets)
}

func TestEquityAndRatios(t *testing.T) {
	f := newFixture(t)

	equity, err := f.engine.EquityValue()
	require.NoError(t, err)
	assert.Equal(t, dec("200"), equity)

	ratio, err := f.engine.DebtRatio()
	require.NoError(t, err)
	assert.Equal(t, dec("0.5"), ratio)

	leverage, err := f.engine.Leverage()
	require.NoError(t, err)
	assert.Equal(t, dec("2"), leverage)
}

func TestDelta(t *testing.T) {
	f := newFixture(t)

	// Held WETH = 100/1000 of 1000 = 100; owed 50. Net 50 WETH at $2 over
	// $200 equity.
	delta, err := f.engine.Delta()
	require.NoError(t, err)
	assert.Equal(t, dec("0.5"), delta)

	// Perfect neutrality.
	f.debtA.debt = dec("100")
	delta, err = f.engine.Delta()
	require.NoError(t, err)
	assert.True(t, delta.IsZero())
}

func TestShareValue(t *testing.T) {
	f := newFixture(t)

	value, err := f.engine.ShareValue()
	require.NoError(t, err)
	assert.Equal(t, dec("2"), value)

	// Zero supply mints at par.
	f.holdings.supply = dec("0")
	value, err = f.engine.ShareValue()
	require.NoError(t, err)
	assert.Equal(t, dec("1"), value)
}

func TestInsolvencyIsAStateNotAnError(t *testing.T) {
	f := newFixture(t)
	f.debtB.debt = dec("500") // debt $600 against $400 assets

	equity, err := f.engine.EquityValue()
	require.NoError(t, err)
	assert.Equal(t, dec("-200"), equity)

	// Ratio still computes.
	ratio, err := f.engine.DebtRatio()
	require.NoError(t, err)
	assert.Equal(t, dec("1.5"), ratio)

	// Equity-normalized metrics refuse to divide.
	_, err = f.engine.Leverage()
	assert.ErrorIs(t, err, ErrZeroEquity)
	_, err = f.engine.Delta()
	assert.ErrorIs(t, err, ErrZeroEquity)

	// Share value clamps to zero instead of going negative.
	value, err := f.engine.ShareValue()
	require.NoError(t, err)
	assert.True(t, value.IsZero())
}

func TestMetricsFailOnOracleOutage(t *testing.T) {
	f := newFixture(t)
	f.feedA.Fail(errors.New("feed offline"))

	_, err := f.engine.AssetValue()
	assert.Error(t, err)
	_, err = f.engine.EquityValue()
	assert.Error(t, err)
	_, err = f.engine.Snapshot()
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)

	snap, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, dec("200"), snap.Equity)
	assert.Equal(t, dec("0.5"), snap.DebtRatio)
	assert.Equal(t, dec("0.5"), snap.Delta)
	assert.Equal(t, dec("100"), snap.LpAmt)
	assert.Equal(t, dec("2"), snap.ShareValue)
}

func TestEmptyVault(t *testing.T) {
	f := newFixture(t)
	f.holdings.lp = dec("0")
	f.holdings.supply = dec("0")
	f.debtA.debt = dec("0")
	f.debtB.debt = dec("0")

	equity, err := f.engine.EquityValue()
	require.NoError(t, err)
	assert.True(t, equity.IsZero())

	ratio, err := f.engine.DebtRatio()
	require.NoError(t, err)
	assert.True(t, ratio.IsZero())

	// Snapshot of an empty vault succeeds with delta defined as zero.
	snap, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Delta.IsZero())
	assert.Equal(t, dec("1"), snap.ShareValue)
}
