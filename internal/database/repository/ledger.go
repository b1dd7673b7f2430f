package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRepo handles the user's recorded transactions.
type LedgerRepo struct{ db *sql.DB }

func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) Insert(ctx context.Context, t LedgerTransaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ledger_transactions(id, bank_account_id, date, amount, description, reconciled_match_id, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, t.ID, t.BankAccountID, t.Date, t.Amount.String(), t.Description, t.ReconciledMatchID)
	return err
}

func (r *LedgerRepo) Get(ctx context.Context, id string) (*LedgerTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, bank_account_id, date, amount, description, reconciled_match_id, created_at FROM ledger_transactions WHERE id = ?`, id)
	t, err := scanLedger(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetTransactions returns an account's transactions in [start, end],
// optionally excluding those already linked to an active match.
func (r *LedgerRepo) GetTransactions(ctx context.Context, bankAccountID string, start, end time.Time, excludeMatched bool) ([]LedgerTransaction, error) {
	query := `SELECT id, bank_account_id, date, amount, description, reconciled_match_id, created_at
	FROM ledger_transactions WHERE bank_account_id = ? AND date >= ? AND date <= ?`
	args := []interface{}{bankAccountID, start, end}
	if excludeMatched {
		query += ` AND reconciled_match_id IS NULL`
	}
	query += ` ORDER BY date ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerTransaction
	for rows.Next() {
		t, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanLedger(row scanner) (LedgerTransaction, error) {
	var t LedgerTransaction
	var amount string
	var matchID sql.NullString
	if err := row.Scan(&t.ID, &t.BankAccountID, &t.Date, &amount, &t.Description, &matchID, &t.CreatedAt); err != nil {
		return LedgerTransaction{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return LedgerTransaction{}, err
	}
	if matchID.Valid {
		t.ReconciledMatchID = &matchID.String
	}
	return t, nil
}
