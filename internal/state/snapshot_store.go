/*

This file contains persistence for health snapshots: one row per keeper
cycle, queried by the dashboard and by post-incident analysis.

*/

package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/types"
)

// SaveHealthSnapshot persists one observation of the vault's health.
func SaveHealthSnapshot(vaultName, cycleID string, snap types.HealthSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var id int64
	err := DB.QueryRow(`
		INSERT INTO health_snapshots
			(vault_name, cycle_id, equity, debt_ratio, delta, lp_amt, share_value, snapshot_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING snapshot_id`,
		vaultName, cycleID,
		snap.Equity.String(), snap.DebtRatio.String(), snap.Delta.String(),
		snap.LpAmt.String(), snap.ShareValue.String(), snap.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert health snapshot: %w", err)
	}
	return id, nil
}

// GetLatestHealthSnapshot returns the most recent snapshot for a vault, or
// sql.ErrNoRows if none has been recorded yet.
func GetLatestHealthSnapshot(vaultName string) (types.HealthSnapshot, error) {
	if DB == nil {
		return types.HealthSnapshot{}, fmt.Errorf("database not initialized")
	}

	var (
		snap                                     types.HealthSnapshot
		equity, debtRatio, delta, lpAmt, shareVal string
	)
	err := DB.QueryRow(`
		SELECT equity, debt_ratio, delta, lp_amt, share_value, snapshot_time
		FROM health_snapshots
		WHERE vault_name = $1
		ORDER BY snapshot_time DESC
		LIMIT 1`, vaultName,
	).Scan(&equity, &debtRatio, &delta, &lpAmt, &shareVal, &snap.Timestamp)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.HealthSnapshot{}, err
		}
		return types.HealthSnapshot{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	if snap.Equity, err = sdkmath.LegacyNewDecFromStr(equity); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("corrupt equity value: %w", err)
	}
	if snap.DebtRatio, err = sdkmath.LegacyNewDecFromStr(debtRatio); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("corrupt debt ratio value: %w", err)
	}
	if snap.Delta, err = sdkmath.LegacyNewDecFromStr(delta); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("corrupt delta value: %w", err)
	}
	if snap.LpAmt, err = sdkmath.LegacyNewDecFromStr(lpAmt); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("corrupt lp amount value: %w", err)
	}
	if snap.ShareValue, err = sdkmath.LegacyNewDecFromStr(shareVal); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("corrupt share value: %w", err)
	}
	return snap, nil
}

// GetHealthSnapshotHistory returns up to limit snapshots, newest first.
func GetHealthSnapshotHistory(vaultName string, limit int) ([]types.HealthSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := DB.Query(`
		SELECT equity, debt_ratio, delta, lp_amt, share_value, snapshot_time
		FROM health_snapshots
		WHERE vault_name = $1
		ORDER BY snapshot_time DESC
		LIMIT $2`, vaultName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var out []types.HealthSnapshot
	for rows.Next() {
		var (
			snap                                     types.HealthSnapshot
			equity, debtRatio, delta, lpAmt, shareVal string
		)
		if err := rows.Scan(&equity, &debtRatio, &delta, &lpAmt, &shareVal, &snap.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if snap.Equity, err = sdkmath.LegacyNewDecFromStr(equity); err != nil {
			return nil, fmt.Errorf("corrupt equity value: %w", err)
		}
		if snap.DebtRatio, err = sdkmath.LegacyNewDecFromStr(debtRatio); err != nil {
			return nil, fmt.Errorf("corrupt debt ratio value: %w", err)
		}
		if snap.Delta, err = sdkmath.LegacyNewDecFromStr(delta); err != nil {
			return nil, fmt.Errorf("corrupt delta value: %w", err)
		}
		if snap.LpAmt, err = sdkmath.LegacyNewDecFromStr(lpAmt); err != nil {
			return nil, fmt.Errorf("corrupt lp amount value: %w", err)
		}
		if snap.ShareValue, err = sdkmath.LegacyNewDecFromStr(shareVal); err != nil {
			return nil, fmt.Errorf("corrupt share value: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
