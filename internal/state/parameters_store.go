/*

This file contains the versioned parameter store. Exactly one row per vault
is active at a time; updating parameters inserts a new version and flips the
active flag inside one transaction, so a crash mid-update never leaves the
vault without a configuration.

*/

package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/types"
)

// SaveVaultParameters inserts a new parameter version for the vault and
// activates it, deactivating any previous version.
func SaveVaultParameters(vaultName string, p types.VaultParameters) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(version), 0) + 1 FROM vault_parameters WHERE vault_name = $1`,
		vaultName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE vault_parameters SET is_active = FALSE WHERE vault_name = $1 AND is_active`,
		vaultName); err != nil {
		return 0, fmt.Errorf("failed to deactivate previous parameters: %w", err)
	}

	var id int64
	err = tx.QueryRow(`
		INSERT INTO vault_parameters
			(version, vault_name, is_active,
			 leverage_target, delta_mode, fee_per_second, treasury,
			 debt_ratio_step_threshold, debt_ratio_upper_limit, debt_ratio_lower_limit,
			 delta_upper_limit, delta_lower_limit,
			 min_slippage, min_execution_fee, remove_buffer_factor)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING params_id`,
		version, vaultName,
		p.LeverageTarget.String(), p.DeltaMode.String(), p.FeePerSecond.String(), p.Treasury,
		p.DebtRatioStepThreshold.String(), p.DebtRatioUpperLimit.String(), p.DebtRatioLowerLimit.String(),
		p.DeltaUpperLimit.String(), p.DeltaLowerLimit.String(),
		p.MinSlippage.String(), p.MinExecutionFee.String(), p.RemoveBufferFactor.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert parameters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit parameter update: %w", err)
	}
	return id, nil
}

// GetActiveVaultParameters loads the active parameter set for a vault.
// Returns sql.ErrNoRows when none has been saved; callers fall back to the
// configured defaults in that case.
func GetActiveVaultParameters(vaultName string) (types.VaultParameters, error) {
	if DB == nil {
		return types.VaultParameters{}, fmt.Errorf("database not initialized")
	}

	var (
		p        types.VaultParameters
		deltaMode string
		fields   [10]string
	)
	err := DB.QueryRow(`
		SELECT leverage_target, delta_mode, fee_per_second, treasury,
		       debt_ratio_step_threshold, debt_ratio_upper_limit, debt_ratio_lower_limit,
		       delta_upper_limit, delta_lower_limit,
		       min_slippage, min_execution_fee, remove_buffer_factor
		FROM vault_parameters
		WHERE vault_name = $1 AND is_active
		ORDER BY activated_at DESC
		LIMIT 1`, vaultName,
	).Scan(&fields[0], &deltaMode, &fields[1], &p.Treasury,
		&fields[2], &fields[3], &fields[4],
		&fields[5], &fields[6],
		&fields[7], &fields[8], &fields[9])
	if err != nil {
		if err == sql.ErrNoRows {
			return types.VaultParameters{}, err
		}
		return types.VaultParameters{}, fmt.Errorf("failed to query active parameters: %w", err)
	}

	decs := make([]sdkmath.LegacyDec, 10)
	for i := 0; i < 10; i++ {
		decs[i], err = sdkmath.LegacyNewDecFromStr(fields[i])
		if err != nil {
			return types.VaultParameters{}, fmt.Errorf("corrupt parameter value: %w", err)
		}
	}

	p.LeverageTarget = decs[0]
	p.FeePerSecond = decs[1]
	p.DebtRatioStepThreshold = decs[2]
	p.DebtRatioUpperLimit = decs[3]
	p.DebtRatioLowerLimit = decs[4]
	p.DeltaUpperLimit = decs[5]
	p.DeltaLowerLimit = decs[6]
	p.MinSlippage = decs[7]
	p.MinExecutionFee = decs[8]
	p.RemoveBufferFactor = decs[9]

	p.DeltaMode = types.DeltaLong
	if deltaMode == "NEUTRAL" {
		p.DeltaMode = types.DeltaNeutral
	}
	return p, nil
}
