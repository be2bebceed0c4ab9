/*

This file contains the keeper loop: the autonomous driver that settles the
venue queue, records health history, and submits rebalance actions when the
vault drifts outside its risk bands. One cycle is one pass; cycles are tied
together in logs by a generated cycle ID.

*/

package keeper

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parallax-fi/dnvm/internal/logger"
	"github.com/parallax-fi/dnvm/internal/types"
	"github.com/parallax-fi/dnvm/internal/vault"
)

// Settler is the slice of the venue the keeper drives: it settles queued
// requests so every submitted action eventually produces its callback.
type Settler interface {
	Pending() int
	SettleNext() error
}

// SnapshotStore persists one health observation per cycle.
type SnapshotStore func(cycleID string, snap types.HealthSnapshot) error

// Config wires a keeper to its collaborators.
type Config struct {
	Address      string // must be an approved keeper on the vault
	Vault        *vault.Vault
	Settler      Settler
	Snapshots    SnapshotStore // optional
	Slippage     sdkmath.LegacyDec
	ExecutionFee sdkmath.LegacyDec
}

// Keeper runs the autonomous maintenance loop for one vault.
type Keeper struct {
	address      string
	vault        *vault.Vault
	settler      Settler
	snapshots    SnapshotStore
	slippage     sdkmath.LegacyDec
	executionFee sdkmath.LegacyDec

	cycleCount int
	logger     zerolog.Logger
}

// NewKeeper validates the wiring and returns a ready keeper.
func NewKeeper(cfg Config) (*Keeper, error) {
	if cfg.Address == "" {
		return nil, errors.New("keeper address cannot be empty")
	}
	if cfg.Vault == nil {
		return nil, errors.New("vault cannot be nil")
	}
	if cfg.Settler == nil {
		return nil, errors.New("settler cannot be nil")
	}
	if cfg.Slippage.IsNil() || cfg.Slippage.IsNegative() {
		return nil, errors.New("slippage cannot be nil or negative")
	}
	if cfg.ExecutionFee.IsNil() || cfg.ExecutionFee.IsNegative() {
		return nil, errors.New("execution fee cannot be nil or negative")
	}
	return &Keeper{
		address:      cfg.Address,
		vault:        cfg.Vault,
		settler:      cfg.Settler,
		snapshots:    cfg.Snapshots,
		slippage:     cfg.Slippage,
		executionFee: cfg.ExecutionFee,
		logger:       logger.GetForComponent("keeper"),
	}, nil
}

// RunLoop starts the keeper loop with the specified interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.cycleCount++
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.RunCycle(ctx)
		}
	}
}

// RunCycle executes one complete maintenance pass.
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Int("cycle", k.cycleCount).Logger()

	cycleLogger.Info().Msg("--- Starting keeper cycle ---")

	// Step 1: drain the venue queue so any in-flight action settles before
	// new decisions are made.
	k.settleQueue(cycleLogger)

	// Step 2: record health. An oracle outage skips the snapshot but not the
	// cycle; settlement must still drain next round.
	snap, err := k.vault.Snapshot()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Health snapshot failed, skipping rebalance evaluation")
		return
	}
	cycleLogger.Info().
		Str("equity", snap.Equity.String()).
		Str("debt_ratio", snap.DebtRatio.String()).
		Str("delta", snap.Delta.String()).
		Msg("Health snapshot captured")

	if k.snapshots != nil {
		if err := k.snapshots(cycleID, snap); err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to persist health snapshot")
		}
	}

	// Step 3: evaluate rebalance. The vault re-runs the decision engine on
	// submission, so the keeper just offers both directions and lets the
	// vault pick or refuse.
	if k.vault.Status() != types.VaultOpen {
		cycleLogger.Info().Str("status", k.vault.Status().String()).Msg("Vault not open, skipping rebalance")
		return
	}

	params := types.RebalanceParams{
		Keeper:       k.address,
		Slippage:     k.slippage,
		ExecutionFee: k.executionFee,
	}

	err = k.vault.RebalanceAdd(params)
	switch {
	case err == nil:
		cycleLogger.Info().Msg("Rebalance add submitted")
	case errors.Is(err, vault.ErrWrongRebalanceDirection), errors.Is(err, vault.ErrVaultInsolvent):
		if rerr := k.vault.RebalanceRemove(params); rerr != nil {
			if !errors.Is(rerr, vault.ErrRebalanceNotNeeded) {
				cycleLogger.Error().Err(rerr).Msg("Rebalance remove failed")
			}
		} else {
			cycleLogger.Info().Msg("Rebalance remove submitted")
		}
	case errors.Is(err, vault.ErrRebalanceNotNeeded):
		cycleLogger.Info().Msg("Vault within risk bands, no rebalance needed")
	default:
		cycleLogger.Error().Err(err).Msg("Rebalance add failed")
	}

	// Step 4: settle whatever this cycle submitted so the round-trip
	// completes before the next evaluation.
	k.settleQueue(cycleLogger)

	cycleLogger.Info().Msg("--- Keeper cycle completed ---")
}

func (k *Keeper) settleQueue(cycleLogger zerolog.Logger) {
	for k.settler.Pending() > 0 {
		if err := k.settler.SettleNext(); err != nil {
			// Settlement errors surface through the vault's refund paths and
			// receipts; the queue keeps draining.
			cycleLogger.Warn().Err(err).Msg("Settlement completed with error")
		}
	}
}
