package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BalanceRecord is one row of ledger_balances.
type BalanceRecord struct {
	Ledger  string
	Account string
	Asset   string
	Amount  uint64
}

// GetBalance returns the balance of account in asset on ledger. Missing rows
// read as zero.
func (s *Storage) GetBalance(ctx context.Context, ledger, account, asset string) (uint64, error) {
	var amount uint64
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT amount FROM ledger_balances WHERE ledger = ? AND account = ? AND asset = ?
	`, ledger, account, asset).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

// SetBalance writes the balance of account in asset on ledger.
func (s *Storage) SetBalance(ctx context.Context, ledger, account, asset string, amount uint64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO ledger_balances (ledger, account, asset, amount, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ledger, account, asset) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at
	`, ledger, account, asset, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// GetAllowance returns how much of asset spender may move for owner.
func (s *Storage) GetAllowance(ctx context.Context, ledger, owner, spender, asset string) (uint64, error) {
	var amount uint64
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT amount FROM ledger_allowances
		WHERE ledger = ? AND owner = ? AND spender = ? AND asset = ?
	`, ledger, owner, spender, asset).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get allowance: %w", err)
	}
	return amount, nil
}

// SetAllowance writes the allowance of spender over owner's asset.
func (s *Storage) SetAllowance(ctx context.Context, ledger, owner, spender, asset string, amount uint64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO ledger_allowances (ledger, owner, spender, asset, amount, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ledger, owner, spender, asset) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at
	`, ledger, owner, spender, asset, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

// Supply returns the total amount of asset held across all accounts.
func (s *Storage) Supply(ctx context.Context, ledger, asset string) (uint64, error) {
	var total sql.NullInt64
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT SUM(amount) FROM ledger_balances WHERE ledger = ? AND asset = ?
	`, ledger, asset).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get supply: %w", err)
	}
	return uint64(total.Int64), nil
}

// ListBalances returns every non-zero balance of account on ledger.
func (s *Storage) ListBalances(ctx context.Context, ledger, account string) ([]BalanceRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT ledger, account, asset, amount FROM ledger_balances
		WHERE ledger = ? AND account = ? AND amount > 0
		ORDER BY asset
	`, ledger, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []BalanceRecord
	for rows.Next() {
		var b BalanceRecord
		if err := rows.Scan(&b.Ledger, &b.Account, &b.Asset, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
