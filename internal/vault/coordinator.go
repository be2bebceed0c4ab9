/*

This file contains the strategy vault's action coordinator: the persistent
store, the Closed/Open/ActionInProgress state machine, share accounting, the
performance-fee mint, and the always-available read-only health queries. The
user/keeper entry points live in actions.go and the settlement callbacks in
callbacks.go.

*/

package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/dnvm/internal/health"
	"github.com/parallax-fi/dnvm/internal/lending"
	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/oracle"
	"github.com/parallax-fi/dnvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrVaultClosed            = errors.New("vault is closed")
	ErrActionAlreadyInProgress = errors.New("an action is already in progress")
	ErrUnknownCallback        = errors.New("callback does not match any pending request")
	ErrSlippageExceeded       = errors.New("realized output violates the request's minimum bound")
	ErrInvalidSlippage        = errors.New("slippage tolerance is below the configured minimum")
	ErrExecutionFeeTooLow     = errors.New("execution fee is below the configured minimum")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrVaultInsolvent         = errors.New("vault equity is zero or negative")
	ErrNotOwner               = errors.New("caller is not the vault owner")
	ErrNotKeeper              = errors.New("caller is not an approved keeper")
	ErrInsufficientShares     = errors.New("share balance is insufficient")
	ErrRebalanceNotNeeded     = errors.New("health metrics are within limits")
	ErrWrongRebalanceDirection = errors.New("requested rebalance direction does not match the decision")
	ErrPendingSettlement      = errors.New("a pending action must settle first")
)

// ReceiptSink receives a record of every settled or refunded action.
type ReceiptSink func(types.ActionReceipt)

// Config wires a vault to its collaborators.
type Config struct {
	Name   string // borrower identity on the lending pools
	Owner  string
	TokenA types.Token
	TokenB types.Token
	Params types.VaultParameters

	Venue    ExecutionVenue
	LendingA *lending.Pool
	LendingB *lending.Pool
	Oracle   *oracle.Oracle
	Pool     health.PoolReader
}

// Vault is the strategy vault state machine. One instance is logically
// single-threaded: the status field's mutual exclusion is the concurrency
// primitive, and the mutex only serializes entry points against callbacks.
type Vault struct {
	mu sync.Mutex

	name    string
	owner   string
	keepers map[string]bool
	params  types.VaultParameters
	status  types.VaultStatus
	tokenA  types.Token
	tokenB  types.Token

	venue    ExecutionVenue
	lendingA *lending.Pool
	lendingB *lending.Pool
	oracle   *oracle.Oracle
	pool     health.PoolReader
	engine   *health.Engine

	// Held balances, whole-token 18-decimal values.
	lpAmt     sdkmath.LegacyDec
	tokenAAmt sdkmath.LegacyDec
	tokenBAmt sdkmath.LegacyDec

	// Share accounting.
	shareSupply   sdkmath.LegacyDec
	shareBalances map[string]sdkmath.LegacyDec
	lastFeeMint   time.Time

	// Single-slot pending-action caches. At most one is non-nil at any time.
	pendingDeposit   *types.DepositCache
	pendingWithdraw  *types.WithdrawCache
	pendingRebalance *types.RebalanceCache
	pendingCompound  *types.CompoundCache

	receipts ReceiptSink
	now      func() time.Time
	logger   zerolog.Logger
}

// holdingsView satisfies health.HoldingsReader without taking the vault
// mutex; every caller of the engine, entry point, callback, or public
// read-only query, already holds v.mu.
type holdingsView struct {
	v *Vault
}

func (h holdingsView) LpAmt() sdkmath.LegacyDec       { return h.v.lpAmt }
func (h holdingsView) TokenAAmt() sdkmath.LegacyDec   { return h.v.tokenAAmt }
func (h holdingsView) TokenBAmt() sdkmath.LegacyDec   { return h.v.tokenBAmt }
func (h holdingsView) ShareSupply() sdkmath.LegacyDec { return h.v.shareSupply }

// New creates an Open vault with zero holdings.
func New(cfg Config) (*Vault, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	v := &Vault{
		name:          cfg.Name,
		owner:         cfg.Owner,
		keepers:       make(map[string]bool),
		params:        cfg.Params,
		status:        types.VaultOpen,
		tokenA:        cfg.TokenA,
		tokenB:        cfg.TokenB,
		venue:         cfg.Venue,
		lendingA:      cfg.LendingA,
		lendingB:      cfg.LendingB,
		oracle:        cfg.Oracle,
		pool:          cfg.Pool,
		lpAmt:         sdkmath.LegacyZeroDec(),
		tokenAAmt:     sdkmath.LegacyZeroDec(),
		tokenBAmt:     sdkmath.LegacyZeroDec(),
		shareSupply:   sdkmath.LegacyZeroDec(),
		shareBalances: make(map[string]sdkmath.LegacyDec),
		now:           time.Now,
		logger:        logger.GetForComponent("strategy_vault").With().Str("vault", cfg.Name).Logger(),
	}
	v.lastFeeMint = v.now()

	engine, err := health.NewEngine(
		cfg.Oracle, cfg.Pool, cfg.LendingA, cfg.LendingB,
		holdingsView{v}, cfg.TokenA, cfg.TokenB, cfg.Name)
	if err != nil {
		return nil, err
	}
	v.engine = engine

	v.logger.Info().
		Str("leverage_target", cfg.Params.LeverageTarget.String()).
		Msg("Strategy vault created")

	return v, nil
}

func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return errors.New("vault name cannot be empty")
	}
	if cfg.Owner == "" {
		return errors.New("vault owner cannot be empty")
	}
	if cfg.Venue == nil {
		return errors.New("execution venue cannot be nil")
	}
	if cfg.LendingA == nil || cfg.LendingB == nil {
		return errors.New("lending pools cannot be nil")
	}
	if cfg.Oracle == nil {
		return errors.New("oracle cannot be nil")
	}
	if cfg.Pool == nil {
		return errors.New("pool reader cannot be nil")
	}
	return validateParams(cfg.Params)
}

func validateParams(p types.VaultParameters) error {
	one := sdkmath.LegacyOneDec()
	if p.LeverageTarget.IsNil() || p.LeverageTarget.LTE(one) {
		return errors.New("leverage target must exceed 1")
	}
	if p.FeePerSecond.IsNil() || p.FeePerSecond.IsNegative() {
		return errors.New("fee per second cannot be negative")
	}
	if p.DebtRatioLowerLimit.IsNil() || p.DebtRatioUpperLimit.IsNil() ||
		p.DebtRatioLowerLimit.GT(p.DebtRatioUpperLimit) {
		return errors.New("debt ratio limits are inverted or nil")
	}
	if p.DeltaLowerLimit.IsNil() || p.DeltaUpperLimit.IsNil() ||
		p.DeltaLowerLimit.GT(p.DeltaUpperLimit) {
		return errors.New("delta limits are inverted or nil")
	}
	if p.DebtRatioStepThreshold.IsNil() || p.DebtRatioStepThreshold.IsNegative() {
		return errors.New("debt ratio step threshold cannot be negative")
	}
	if p.MinSlippage.IsNil() || p.MinSlippage.IsNegative() {
		return errors.New("minimum slippage cannot be negative")
	}
	if p.MinExecutionFee.IsNil() || p.MinExecutionFee.IsNegative() {
		return errors.New("minimum execution fee cannot be negative")
	}
	if p.RemoveBufferFactor.IsNil() || p.RemoveBufferFactor.LT(one) {
		return errors.New("remove buffer factor must be >= 1")
	}
	if p.Treasury == "" {
		return errors.New("treasury cannot be empty")
	}
	return nil
}

// SetReceiptSink registers a sink that receives a receipt for every settled
// or refunded action.
func (v *Vault) SetReceiptSink(sink ReceiptSink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receipts = sink
}

// WithClock overrides the time source. Used by tests.
func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	v.lastFeeMint = now()
	return v
}

// ApproveKeeper allow-lists a keeper for rebalance/compound calls. Owner only.
func (v *Vault) ApproveKeeper(caller, keeper string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrNotOwner
	}
	v.keepers[keeper] = true
	v.logger.Info().Str("keeper", keeper).Msg("Keeper approved")
	return nil
}

// Close freezes all user-facing entry points. Emergency only, owner only.
// An in-flight action still settles through its callback.
func (v *Vault) Close(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrNotOwner
	}
	v.status = types.VaultClosed
	v.logger.Warn().Msg("Vault closed by emergency path")
	return nil
}

// Reopen returns a closed vault to Open. Fails while a pending action has
// not settled.
func (v *Vault) Reopen(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrNotOwner
	}
	if v.pendingKindLocked() != "" {
		return ErrPendingSettlement
	}
	v.status = types.VaultOpen
	v.logger.Info().Msg("Vault reopened")
	return nil
}

// Status returns the current lifecycle state.
func (v *Vault) Status() types.VaultStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Params returns the configured risk parameters.
func (v *Vault) Params() types.VaultParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// PendingKind reports which single action slot is populated, empty string if
// none. The single-slot invariant means this is never ambiguous.
func (v *Vault) PendingKind() types.ActionKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pendingKindLocked()
}

func (v *Vault) pendingKindLocked() types.ActionKind {
	switch {
	case v.pendingDeposit != nil:
		return types.ActionDeposit
	case v.pendingWithdraw != nil:
		return types.ActionWithdraw
	case v.pendingRebalance != nil:
		return v.pendingRebalance.Kind
	case v.pendingCompound != nil:
		return types.ActionCompound
	default:
		return ""
	}
}

// BalanceOf returns an account's share balance.
func (v *Vault) BalanceOf(account string) sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.shareBalances[account]
	if !ok {
		return sdkmath.LegacyZeroDec()
	}
	return bal
}

// ShareSupply returns the total shares outstanding.
func (v *Vault) ShareSupply() sdkmath.LegacyDec {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shareSupply
}

// --- Read-only health queries, always available, computed live ---
//
// Each one takes the vault mutex: the engine reads holdings through
// holdingsView, and callbacks mutate those fields under the same lock.

// EquityValue returns assetValue - debtValue.
func (v *Vault) EquityValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.EquityValue()
}

// DebtValue returns the USD value of both borrow legs.
func (v *Vault) DebtValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.DebtValue()
}

// AssetValue returns the USD value of the LP position plus loose balances.
func (v *Vault) AssetValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.AssetValue()
}

// DebtRatio returns debtValue / assetValue.
func (v *Vault) DebtRatio() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.DebtRatio()
}

// Delta returns the normalized net tokenA exposure.
func (v *Vault) Delta() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.Delta()
}

// Leverage returns assetValue / equityValue.
func (v *Vault) Leverage() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.Leverage()
}

// SvTokenValue returns the NAV per share.
func (v *Vault) SvTokenValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.ShareValue()
}

// Snapshot captures a timestamped health snapshot, failing if any oracle
// read fails.
func (v *Vault) Snapshot() (types.HealthSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// AssetAmt returns the vault's tokenA/tokenB composition.
func (v *Vault) AssetAmt() (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.AssetAmt()
}

// DebtAmt returns the whole-token debt per leg.
func (v *Vault) DebtAmt() (sdkmath.LegacyDec, sdkmath.LegacyDec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.DebtAmt()
}

// --- Internal helpers (callers hold v.mu) ---

// ensureOpenLocked gates entry points on the state machine.
func (v *Vault) ensureOpenLocked() error {
	switch v.status {
	case types.VaultClosed:
		return ErrVaultClosed
	case types.VaultActionInProgress:
		return ErrActionAlreadyInProgress
	default:
		return nil
	}
}

// validateRequestLocked enforces the request-level execution bounds.
func (v *Vault) validateRequestLocked(slippage, executionFee sdkmath.LegacyDec) error {
	if slippage.IsNil() || slippage.LT(v.params.MinSlippage) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidSlippage, slippage, v.params.MinSlippage)
	}
	if executionFee.IsNil() || executionFee.LT(v.params.MinExecutionFee) {
		return fmt.Errorf("%w: %s < %s", ErrExecutionFeeTooLow, executionFee, v.params.MinExecutionFee)
	}
	return nil
}

// mintFeeLocked accrues the performance fee: supply * feePerSecond * elapsed
// shares minted to the treasury. Called before every share-supply mutation.
func (v *Vault) mintFeeLocked() {
	now := v.now()
	elapsed := now.Sub(v.lastFeeMint)
	v.lastFeeMint = now
	if elapsed <= 0 || v.shareSupply.IsZero() || v.params.FeePerSecond.IsZero() {
		return
	}

	fee := v.shareSupply.Mul(v.params.FeePerSecond).MulInt64(int64(elapsed.Seconds()))
	if !fee.IsPositive() {
		return
	}
	v.mintLocked(v.params.Treasury, fee)
	v.logger.Debug().Str("fee_shares", fee.String()).Msg("Performance fee minted to treasury")
}

func (v *Vault) mintLocked(account string, shares sdkmath.LegacyDec) {
	bal, ok := v.shareBalances[account]
	if !ok {
		bal = sdkmath.LegacyZeroDec()
	}
	v.shareBalances[account] = bal.Add(shares)
	v.shareSupply = v.shareSupply.Add(shares)
}

func (v *Vault) burnLocked(account string, shares sdkmath.LegacyDec) error {
	bal, ok := v.shareBalances[account]
	if !ok || bal.LT(shares) {
		return ErrInsufficientShares
	}
	v.shareBalances[account] = bal.Sub(shares)
	v.shareSupply = v.shareSupply.Sub(shares)
	return nil
}

// snapshotLocked captures health before a request is submitted.
func (v *Vault) snapshotLocked() (types.HealthSnapshot, error) {
	snap, err := v.engine.Snapshot()
	if err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("health snapshot failed: %w", err)
	}
	snap.Timestamp = v.now()
	return snap, nil
}

// lpUnitValueLocked reads a fresh LP share valuation.
func (v *Vault) lpUnitValueLocked() (sdkmath.LegacyDec, error) {
	state, err := v.pool.PoolState()
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return v.oracle.LPValue(state, v.tokenA, v.tokenB)
}

func (v *Vault) emitReceiptLocked(r types.ActionReceipt) {
	r.Timestamp = v.now()
	if r.SharesDelta.IsNil() {
		r.SharesDelta = sdkmath.LegacyZeroDec()
	}
	if r.EquityBefore.IsNil() {
		r.EquityBefore = sdkmath.LegacyZeroDec()
	}
	if r.EquityAfter.IsNil() {
		r.EquityAfter = sdkmath.LegacyZeroDec()
	}
	if v.receipts != nil {
		v.receipts(r)
	}
}
