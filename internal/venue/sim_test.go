package venue

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/vault"
)

var (
	testTokenA = types.Token{Symbol: "WETH", Address: "0xeth", Decimals: 18}
	testTokenB = types.Token{Symbol: "USDC", Address: "0xusdc", Decimals: 6}
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

// recordingSink captures every delivered callback.
type recordingSink struct {
	executed  []string // request keys, in delivery order
	outcomes  []vault.Outcome
	cancelled map[string]string // key -> reason
}

func newRecordingSink() *recordingSink {
	return &recordingSink{cancelled: make(map[string]string)}
}

func (r *recordingSink) record(key string, out vault.Outcome) error {
	r.executed = append(r.executed, key)
	r.outcomes = append(r.outcomes, out)
	return nil
}

func (r *recordingSink) OnDepositExecuted(key string, out vault.Outcome) error {
	return r.record(key, out)
}
func (r *recordingSink) OnWithdrawExecuted(key string, out vault.Outcome) error {
	return r.record(key, out)
}
func (r *recordingSink) OnOrderExecuted(key string, out vault.Outcome) error {
	return r.record(key, out)
}
func (r *recordingSink) OnCancelled(key string, reason string) error {
	r.cancelled[key] = reason
	return nil
}

func newTestSim(t *testing.T) (*Sim, *recordingSink) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := oracle.New().WithClock(func() time.Time { return now })
	for _, w := range []struct {
		token types.Token
		price string
	}{{testTokenA, "2"}, {testTokenB, "1"}} {
		require.NoError(t, o.AddTokenPriceFeed(w.token, oracle.NewStaticFeed(dec(w.price), now)))
		require.NoError(t, o.AddTokenMaxDeviation(w.token, dec("0.05")))
		require.NoError(t, o.AddTokenMaxDelay(w.token, time.Hour))
	}

	s, err := NewSim(testTokenA, testTokenB, o, dec("1000"), dec("2000"), dec("1000"))
	require.NoError(t, err)
	s.SetFeeRate(dec("0"))

	sink := newRecordingSink()
	s.SetSink(sink)
	return s, sink
}

func TestNewSimValidation(t *testing.T) {
	_, err := NewSim(testTokenA, testTokenB, nil, dec("1"), dec("1"), dec("1"))
	assert.Error(t, err)

	o := oracle.New()
	_, err = NewSim(testTokenA, testTokenB, o, dec("-1"), dec("1"), dec("1"))
	assert.Error(t, err)

	_, err = NewSim(testTokenA, testTokenB, o, dec("1"), dec("1"), dec("0"))
	assert.Error(t, err)
}

func TestPoolStateConversion(t *testing.T) {
	s, _ := newTestSim(t)

	state, err := s.PoolState()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1000, 18), state.ReserveA)
	assert.Equal(t, sdkmath.NewIntWithDecimal(2000, 6), state.ReserveB)
	assert.Equal(t, dec("1000"), state.LpSupply)
}

func TestSettleRequiresSinkAndQueue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o := oracle.New().WithClock(func() time.Time { return now })
	s, err := NewSim(testTokenA, testTokenB, o, dec("1000"), dec("2000"), dec("1000"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.SettleNext(), ErrSinkNotSet)
	assert.ErrorIs(t, s.CancelNext("x"), ErrSinkNotSet)

	s.SetSink(newRecordingSink())
	assert.ErrorIs(t, s.SettleNext(), ErrNoPendingRequests)
	assert.ErrorIs(t, s.CancelNext("x"), ErrNoPendingRequests)
}

func TestSubmitValidation(t *testing.T) {
	s, _ := newTestSim(t)

	_, err := s.SubmitDeposit(vault.DepositRequest{
		TokenAAmt: dec("0"), TokenBAmt: dec("0"), MinLpOut: dec("0"),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.SubmitWithdraw(vault.WithdrawRequest{LpAmt: dec("0")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.SubmitWithdraw(vault.WithdrawRequest{LpAmt: dec("5000"), MinTokenBOut: dec("0")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.SubmitOrder(vault.OrderRequest{Kind: types.ActionRebalanceAdd})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.SubmitOrder(vault.OrderRequest{Kind: types.ActionDeposit})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 0, s.Pending())
}

func TestDepositFill(t *testing.T) {
	s, sink := newTestSim(t)

	// $40 in at an LP unit value of $4 mints 10 LP with no fee.
	key, err := s.SubmitDeposit(vault.DepositRequest{
		TokenAAmt: dec("10"),
		TokenBAmt: dec("20"),
		MinLpOut:  dec("9"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.SettleNext())
	assert.Equal(t, 0, s.Pending())
	require.Len(t, sink.executed, 1)
	assert.Equal(t, key, sink.executed[0])
	assert.Equal(t, dec("10"), sink.outcomes[0].LpDelta)

	// Reserves and supply grew with the fill.
	state, err := s.PoolState()
	require.NoError(t, err)
	assert.Equal(t, dec("1010"), state.LpSupply)
}

func TestDepositBelowMinimumCancels(t *testing.T) {
	s, sink := newTestSim(t)

	key, err := s.SubmitDeposit(vault.DepositRequest{
		TokenAAmt: dec("10"),
		TokenBAmt: dec("20"),
		MinLpOut:  dec("11"),
	})
	require.NoError(t, err)

	require.NoError(t, s.SettleNext())
	assert.Empty(t, sink.executed)
	assert.Contains(t, sink.cancelled[key], "below minimum")

	// A refused fill leaves the pool untouched.
	state, err := s.PoolState()
	require.NoError(t, err)
	assert.Equal(t, dec("1000"), state.LpSupply)
}

func TestWithdrawFill(t *testing.T) {
	s, sink := newTestSim(t)

	key, err := s.SubmitWithdraw(vault.WithdrawRequest{
		LpAmt:        dec("100"),
		MinTokenBOut: dec("390"),
	})
	require.NoError(t, err)
	require.NoError(t, s.SettleNext())

	require.Len(t, sink.executed, 1)
	assert.Equal(t, key, sink.executed[0])
	out := sink.outcomes[0]
	assert.Equal(t, dec("-100"), out.LpDelta)
	assert.Equal(t, dec("100"), out.TokenAOut)
	assert.Equal(t, dec("200"), out.TokenBOut)
}

func TestOracleOutageCancels(t *testing.T) {
	s, sink := newTestSim(t)

	key, err := s.SubmitDeposit(vault.DepositRequest{
		TokenAAmt: dec("10"),
		TokenBAmt: dec("20"),
		MinLpOut:  dec("0"),
	})
	require.NoError(t, err)

	// Tear down the tokenA feed before settlement; the venue converts the
	// execution failure into a cancellation so the round-trip terminates.
	o := oracle.New()
	s.oracle = o

	require.NoError(t, s.SettleNext())
	assert.Empty(t, sink.executed)
	assert.Contains(t, sink.cancelled[key], "WETH")
}

func TestSettleAllDrainsInOrder(t *testing.T) {
	s, sink := newTestSim(t)

	k1, err := s.SubmitDeposit(vault.DepositRequest{
		TokenAAmt: dec("10"), TokenBAmt: dec("20"), MinLpOut: dec("0"),
	})
	require.NoError(t, err)
	k2, err := s.SubmitOrder(vault.OrderRequest{
		Kind:        types.ActionRebalanceRemove,
		RemoveLpAmt: dec("5"),
	})
	require.NoError(t, err)

	require.NoError(t, s.SettleAll())
	assert.Equal(t, []string{k1, k2}, sink.executed)
	assert.Equal(t, 0, s.Pending())
}
