package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/model"
)

// EnsureOwner registers an owner on first contact. Existing owners are
// left untouched.
func (s *SQLiteStorage) EnsureOwner(ctx context.Context, ownerID, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ownerID, displayName)
	if err != nil {
		return fmt.Errorf("failed to ensure owner %s: %w", ownerID, err)
	}
	return nil
}

// RecordTransaction appends a confirmed expense to the ledger and
// returns its id. An unknown owner fails with common.ErrOwnerNotFound.
func (s *SQLiteStorage) RecordTransaction(ctx context.Context, ownerID string, amount decimal.Decimal, description string) (int64, error) {
	if err := s.ownerExists(ctx, ownerID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (owner_id, amount, currency, description, spent_at)
		VALUES (?, ?, ?, ?, ?)
	`, ownerID, amount.String(), model.HomeCurrency.Code, description, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}
	return id, nil
}

// DeleteTransaction removes one expense, scoped to its owner so no one
// can delete another user's rows.
func (s *SQLiteStorage) DeleteTransaction(ctx context.Context, ownerID string, transactionID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM expenses WHERE id = ? AND owner_id = ?
	`, transactionID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// UpdateTransactionAmount changes one expense's amount, scoped to its
// owner.
func (s *SQLiteStorage) UpdateTransactionAmount(ctx context.Context, ownerID string, transactionID int64, amount decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expenses SET amount = ? WHERE id = ? AND owner_id = ?
	`, amount.String(), transactionID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// MonthlyTotal sums the owner's expenses for the calendar month that
// contains the given time.
func (s *SQLiteStorage) MonthlyTotal(ctx context.Context, ownerID string, month time.Time) (decimal.Decimal, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM expenses
		WHERE owner_id = ? AND spent_at >= ? AND spent_at < ?
	`, ownerID, start, end)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to query monthly total: %w", err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Decimal{}, fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// RecentExpenses lists the owner's newest expenses, newest first.
func (s *SQLiteStorage) RecentExpenses(ctx context.Context, ownerID string, limit int) ([]model.Expense, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, amount, currency, description, spent_at
		FROM expenses WHERE owner_id = ?
		ORDER BY spent_at DESC, id DESC LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Expense
	for rows.Next() {
		var e model.Expense
		var raw string
		if err := rows.Scan(&e.ID, &e.OwnerID, &raw, &e.Currency, &e.Description, &e.SpentAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		e.Amount = amount
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetMonthlyBudget sets or replaces the owner's monthly allowance.
func (s *SQLiteStorage) SetMonthlyBudget(ctx context.Context, ownerID string, amount decimal.Decimal) error {
	if err := s.ownerExists(ctx, ownerID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (owner_id, monthly, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner_id) DO UPDATE SET monthly = excluded.monthly, updated_at = CURRENT_TIMESTAMP
	`, ownerID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to set budget: %w", err)
	}
	return nil
}

// ResetBudget removes the owner's monthly allowance.
func (s *SQLiteStorage) ResetBudget(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM budgets WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to reset budget: %w", err)
	}
	return nil
}

// MonthlyBudget reads the owner's allowance, or common.ErrNotFound when
// none is set.
func (s *SQLiteStorage) MonthlyBudget(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT monthly FROM budgets WHERE owner_id = ?
	`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, common.ErrNotFound
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to query budget: %w", err)
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt budget %q: %w", raw, err)
	}
	return amount, nil
}

func (s *SQLiteStorage) ownerExists(ctx context.Context, ownerID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE id = ?`, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", common.ErrOwnerNotFound, ownerID)
	}
	if err != nil {
		return fmt.Errorf("failed to check owner %s: %w", ownerID, err)
	}
	return nil
}
