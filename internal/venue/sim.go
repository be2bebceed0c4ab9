/*

This file contains the simulated execution venue: an in-process AMM-style
settlement layer that accepts vault requests, queues them, and settles each
one later through the vault's callbacks. The simulation fills at oracle
prices less a pool fee and an adjustable fill factor, which is enough to
exercise every success, slippage, and cancellation path of the two-phase
protocol without a live venue.

*/

package venue

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/utils"
	"github.com/parallax-fi/dnvm/internal/vault"
)

var (
	ErrNoPendingRequests = errors.New("no pending requests to settle")
	ErrSinkNotSet        = errors.New("callback sink is not set")
	ErrInvalidRequest    = errors.New("request is invalid")
)

// CallbackSink receives exactly one settlement callback per submitted
// request. The strategy vault is the production sink.
type CallbackSink interface {
	OnDepositExecuted(requestKey string, out vault.Outcome) error
	OnWithdrawExecuted(requestKey string, out vault.Outcome) error
	OnOrderExecuted(requestKey string, out vault.Outcome) error
	OnCancelled(requestKey string, reason string) error
}

type pendingRequest struct {
	key      string
	kind     types.ActionKind
	deposit  vault.DepositRequest
	withdraw vault.WithdrawRequest
	order    vault.OrderRequest
}

// Sim is the simulated settlement venue. It doubles as the pool-state
// source for LP valuation, so the vault and the venue price against the
// same reserves.
type Sim struct {
	mu sync.Mutex

	tokenA types.Token
	tokenB types.Token
	oracle *oracle.Oracle

	reserveA sdkmath.LegacyDec // whole-token units
	reserveB sdkmath.LegacyDec
	lpSupply sdkmath.LegacyDec

	feeRate    sdkmath.LegacyDec // taken on every fill
	fillFactor sdkmath.LegacyDec // 1.0 = perfect fill; lower simulates bad execution

	queue  []pendingRequest
	sink   CallbackSink
	logger zerolog.Logger
}

// NewSim seeds the venue's pool with the given whole-token reserves and LP
// supply.
func NewSim(tokenA, tokenB types.Token, o *oracle.Oracle, reserveA, reserveB, lpSupply sdkmath.LegacyDec) (*Sim, error) {
	if o == nil {
		return nil, errors.New("oracle cannot be nil")
	}
	if reserveA.IsNil() || reserveA.IsNegative() || reserveB.IsNil() || reserveB.IsNegative() {
		return nil, errors.New("reserves cannot be nil or negative")
	}
	if lpSupply.IsNil() || !lpSupply.IsPositive() {
		return nil, errors.New("lp supply must be positive")
	}
	return &Sim{
		tokenA:     tokenA,
		tokenB:     tokenB,
		oracle:     o,
		reserveA:   reserveA,
		reserveB:   reserveB,
		lpSupply:   lpSupply,
		feeRate:    sdkmath.LegacyNewDecWithPrec(3, 3), // 0.3%
		fillFactor: sdkmath.LegacyOneDec(),
		logger:     logger.GetForComponent("sim_venue"),
	}, nil
}

// SetSink wires the settlement callbacks. The vault is constructed with the
// venue as a dependency, so the sink arrives after construction.
func (s *Sim) SetSink(sink CallbackSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// SetFeeRate overrides the pool fee.
func (s *Sim) SetFeeRate(rate sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRate = rate
}

// SetFillFactor scales every fill's output. Values below 1 simulate poor
// execution and drive the vault's slippage-refund paths.
func (s *Sim) SetFillFactor(factor sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillFactor = factor
}

// PoolState reports the venue's reserves in token-native units for LP
// valuation.
func (s *Sim) PoolState() (oracle.PoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resA, err := utils.DecToNative(s.reserveA, s.tokenA.Decimals)
	if err != nil {
		return oracle.PoolState{}, fmt.Errorf("reserve A conversion failed: %w", err)
	}
	resB, err := utils.DecToNative(s.reserveB, s.tokenB.Decimals)
	if err != nil {
		return oracle.PoolState{}, fmt.Errorf("reserve B conversion failed: %w", err)
	}
	return oracle.PoolState{
		ReserveA: resA,
		ReserveB: resB,
		LpSupply: s.lpSupply,
	}, nil
}

// Pending reports how many requests await settlement.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SubmitDeposit queues an LP addition and returns its request key.
func (s *Sim) SubmitDeposit(req vault.DepositRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.TokenAAmt.IsNil() || req.TokenAAmt.IsNegative() ||
		req.TokenBAmt.IsNil() || req.TokenBAmt.IsNegative() {
		return "", fmt.Errorf("%w: negative or nil amounts", ErrInvalidRequest)
	}
	if !req.TokenAAmt.IsPositive() && !req.TokenBAmt.IsPositive() {
		return "", fmt.Errorf("%w: nothing to deposit", ErrInvalidRequest)
	}

	key := uuid.New().String()
	s.queue = append(s.queue, pendingRequest{key: key, kind: types.ActionDeposit, deposit: req})
	s.logger.Debug().Str("request_key", key).Msg("Deposit request queued")
	return key, nil
}

// SubmitWithdraw queues an LP removal and returns its request key.
func (s *Sim) SubmitWithdraw(req vault.WithdrawRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.LpAmt.IsNil() || !req.LpAmt.IsPositive() {
		return "", fmt.Errorf("%w: LP amount must be positive", ErrInvalidRequest)
	}
	if req.LpAmt.GT(s.lpSupply) {
		return "", fmt.Errorf("%w: LP amount exceeds supply", ErrInvalidRequest)
	}

	key := uuid.New().String()
	s.queue = append(s.queue, pendingRequest{key: key, kind: types.ActionWithdraw, withdraw: req})
	s.logger.Debug().Str("request_key", key).Msg("Withdraw request queued")
	return key, nil
}

// SubmitOrder queues a composite rebalance or compound order.
func (s *Sim) SubmitOrder(req vault.OrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Kind {
	case types.ActionRebalanceAdd:
		if (req.AddTokenAAmt.IsNil() || !req.AddTokenAAmt.IsPositive()) &&
			(req.AddTokenBAmt.IsNil() || !req.AddTokenBAmt.IsPositive()) {
			return "", fmt.Errorf("%w: nothing to add", ErrInvalidRequest)
		}
	case types.ActionRebalanceRemove:
		if req.RemoveLpAmt.IsNil() || !req.RemoveLpAmt.IsPositive() {
			return "", fmt.Errorf("%w: LP amount must be positive", ErrInvalidRequest)
		}
	case types.ActionCompound:
		if req.SwapAmt.IsNil() || !req.SwapAmt.IsPositive() {
			return "", fmt.Errorf("%w: swap amount must be positive", ErrInvalidRequest)
		}
	default:
		return "", fmt.Errorf("%w: unsupported order kind %q", ErrInvalidRequest, req.Kind)
	}

	key := uuid.New().String()
	s.queue = append(s.queue, pendingRequest{key: key, kind: req.Kind, order: req})
	s.logger.Debug().Str("request_key", key).Str("kind", string(req.Kind)).Msg("Order request queued")
	return key, nil
}

// SettleNext executes the oldest pending request and delivers its callback.
func (s *Sim) SettleNext() error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return ErrSinkNotSet
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return ErrNoPendingRequests
	}
	req := s.queue[0]
	s.queue = s.queue[1:]

	out, cancelReason, err := s.executeLocked(req)
	s.mu.Unlock()
	if err != nil {
		// Execution-level failure (oracle outage etc). Deliver as a cancel so
		// the round-trip still terminates.
		s.logger.Warn().Err(err).Str("request_key", req.key).Msg("Execution failed, cancelling")
		return s.sink.OnCancelled(req.key, err.Error())
	}
	if cancelReason != "" {
		return s.sink.OnCancelled(req.key, cancelReason)
	}

	// The callback is delivered outside the venue lock; the sink takes its
	// own lock and may call back into PoolState.
	switch req.kind {
	case types.ActionDeposit:
		return s.sink.OnDepositExecuted(req.key, out)
	case types.ActionWithdraw:
		return s.sink.OnWithdrawExecuted(req.key, out)
	default:
		return s.sink.OnOrderExecuted(req.key, out)
	}
}

// SettleAll settles the whole queue in order, stopping at the first error.
func (s *Sim) SettleAll() error {
	for s.Pending() > 0 {
		if err := s.SettleNext(); err != nil {
			return err
		}
	}
	return nil
}

// CancelNext drops the oldest pending request and delivers a cancellation
// callback with the given reason.
func (s *Sim) CancelNext(reason string) error {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		return ErrSinkNotSet
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return ErrNoPendingRequests
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	s.logger.Info().Str("request_key", req.key).Str("reason", reason).Msg("Request cancelled")
	return s.sink.OnCancelled(req.key, reason)
}

// executeLocked fills one request against the pool. A non-empty cancelReason
// means the venue refused the fill (minimum-out not met) and the caller must
// deliver a cancellation instead.
func (s *Sim) executeLocked(req pendingRequest) (out vault.Outcome, cancelReason string, err error) {
	zero := sdkmath.LegacyZeroDec()
	out = vault.Outcome{LpDelta: zero, TokenAOut: zero, TokenBOut: zero}

	priceA, err := s.oracle.PriceOf(s.tokenA)
	if err != nil {
		return out, "", err
	}
	priceB, err := s.oracle.PriceOf(s.tokenB)
	if err != nil {
		return out, "", err
	}
	lpUnit := s.reserveA.Mul(priceA).Add(s.reserveB.Mul(priceB)).Quo(s.lpSupply)
	keep := sdkmath.LegacyOneDec().Sub(s.feeRate).Mul(s.fillFactor)

	switch req.kind {
	case types.ActionDeposit:
		r := req.deposit
		value := r.TokenAAmt.Mul(priceA).Add(r.TokenBAmt.Mul(priceB))
		lpOut := value.Mul(keep).Quo(lpUnit)
		if lpOut.LT(r.MinLpOut) {
			return out, fmt.Sprintf("fill %s LP below minimum %s", lpOut, r.MinLpOut), nil
		}
		s.reserveA = s.reserveA.Add(r.TokenAAmt)
		s.reserveB = s.reserveB.Add(r.TokenBAmt)
		s.lpSupply = s.lpSupply.Add(lpOut)
		out.LpDelta = lpOut
		return out, "", nil

	case types.ActionWithdraw:
		r := req.withdraw
		proportion := r.LpAmt.Quo(s.lpSupply)
		outA := s.reserveA.Mul(proportion).Mul(keep)
		outB := s.reserveB.Mul(proportion).Mul(keep)

		// The minimum bound is expressed in tokenB value terms across both
		// returned legs.
		valueInB := outB.Add(outA.Mul(priceA).Quo(priceB))
		if valueInB.LT(r.MinTokenBOut) {
			return out, fmt.Sprintf("fill %s below minimum %s", valueInB, r.MinTokenBOut), nil
		}
		s.reserveA = s.reserveA.Sub(outA)
		s.reserveB = s.reserveB.Sub(outB)
		s.lpSupply = s.lpSupply.Sub(r.LpAmt)
		out.LpDelta = r.LpAmt.Neg()
		out.TokenAOut = outA
		out.TokenBOut = outB
		return out, "", nil

	case types.ActionRebalanceAdd:
		r := req.order
		value := r.AddTokenAAmt.Mul(priceA).Add(r.AddTokenBAmt.Mul(priceB))
		lpOut := value.Mul(keep).Quo(lpUnit)
		s.reserveA = s.reserveA.Add(r.AddTokenAAmt)
		s.reserveB = s.reserveB.Add(r.AddTokenBAmt)
		s.lpSupply = s.lpSupply.Add(lpOut)
		out.LpDelta = lpOut
		return out, "", nil

	case types.ActionRebalanceRemove:
		r := req.order
		proportion := r.RemoveLpAmt.Quo(s.lpSupply)
		outA := s.reserveA.Mul(proportion).Mul(keep)
		outB := s.reserveB.Mul(proportion).Mul(keep)
		s.reserveA = s.reserveA.Sub(outA)
		s.reserveB = s.reserveB.Sub(outB)
		s.lpSupply = s.lpSupply.Sub(r.RemoveLpAmt)
		out.LpDelta = r.RemoveLpAmt.Neg()
		out.TokenAOut = outA
		out.TokenBOut = outB
		return out, "", nil

	case types.ActionCompound:
		r := req.order
		rewardPrice, perr := s.oracle.PriceOf(r.SwapToken)
		if perr != nil {
			return out, "", perr
		}
		// Swap the harvested reward into tokenB value, then add it to the
		// pool single-sided for LP.
		swappedB := r.SwapAmt.Mul(rewardPrice).Quo(priceB).Mul(keep)
		lpOut := swappedB.Mul(priceB).Mul(sdkmath.LegacyOneDec().Sub(s.feeRate)).Quo(lpUnit)
		s.reserveB = s.reserveB.Add(swappedB)
		s.lpSupply = s.lpSupply.Add(lpOut)
		out.LpDelta = lpOut
		return out, "", nil

	default:
		return out, "", fmt.Errorf("unsupported request kind %q", req.kind)
	}
}
