/*

This file contains persistence for action receipts: the durable audit trail
of every settled, refunded, or cancelled action.

*/

package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/parallax-fi/dnvm/internal/types"
)

// SaveActionReceipt persists one settled action outcome.
func SaveActionReceipt(vaultName string, r types.ActionReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var id int64
	err := DB.QueryRow(`
		INSERT INTO action_receipts
			(vault_name, kind, request_key, account, success, message,
			 shares_delta, equity_before, equity_after, receipt_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id`,
		vaultName, string(r.Kind), r.RequestKey, r.Account, r.Success, r.Message,
		r.SharesDelta.String(), r.EquityBefore.String(), r.EquityAfter.String(), r.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action receipt: %w", err)
	}
	return id, nil
}

// GetActionReceipts returns up to limit receipts for a vault, newest first.
func GetActionReceipts(vaultName string, limit int) ([]types.ActionReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := DB.Query(`
		SELECT receipt_id, kind, request_key, account, success, message,
		       shares_delta, equity_before, equity_after, receipt_time
		FROM action_receipts
		WHERE vault_name = $1
		ORDER BY receipt_time DESC
		LIMIT $2`, vaultName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query action receipts: %w", err)
	}
	defer rows.Close()

	var out []types.ActionReceipt
	for rows.Next() {
		var (
			r                                   types.ActionReceipt
			kind, sharesDelta, eqBefore, eqAfter string
		)
		if err := rows.Scan(&r.ReceiptID, &kind, &r.RequestKey, &r.Account,
			&r.Success, &r.Message, &sharesDelta, &eqBefore, &eqAfter, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Kind = types.ActionKind(kind)
		if r.SharesDelta, err = sdkmath.LegacyNewDecFromStr(sharesDelta); err != nil {
			return nil, fmt.Errorf("corrupt shares delta value: %w", err)
		}
		if r.EquityBefore, err = sdkmath.LegacyNewDecFromStr(eqBefore); err != nil {
			return nil, fmt.Errorf("corrupt equity before value: %w", err)
		}
		if r.EquityAfter, err = sdkmath.LegacyNewDecFromStr(eqAfter); err != nil {
			return nil, fmt.Errorf("corrupt equity after value: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
