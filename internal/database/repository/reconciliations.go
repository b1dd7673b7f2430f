package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type versionConflictError struct{}

func (versionConflictError) Error() string { return "reconciliation version conflict" }

// ErrVersionConflict signals a lost optimistic-concurrency race. The service
// layer maps it onto its own error taxonomy.
var ErrVersionConflict error = versionConflictError{}

// ReconciliationRepo handles reconciliation sessions.
type ReconciliationRepo struct{ db *sql.DB }

func NewReconciliationRepo(db *sql.DB) *ReconciliationRepo { return &ReconciliationRepo{db: db} }

func (r *ReconciliationRepo) Insert(ctx context.Context, rec Reconciliation) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO reconciliations(
	 id, bank_account_id, statement_id, reconciliation_date, opening_balance, closing_balance,
	 status, version, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP);
	`, rec.ID, rec.BankAccountID, rec.StatementID, rec.ReconciliationDate,
		rec.OpeningBalance.String(), rec.ClosingBalance.String(), string(rec.Status))
	return err
}

func (r *ReconciliationRepo) Get(ctx context.Context, id string) (*Reconciliation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, bank_account_id, statement_id, reconciliation_date, opening_balance, closing_balance, status, forced_difference, version, created_at, completed_at, completed_by FROM reconciliations WHERE id = ?`, id)
	rec, err := scanReconciliation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// OpenForAccount returns the account's in-progress reconciliation, if any.
func (r *ReconciliationRepo) OpenForAccount(ctx context.Context, bankAccountID string) (*Reconciliation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, bank_account_id, statement_id, reconciliation_date, opening_balance, closing_balance, status, forced_difference, version, created_at, completed_at, completed_by FROM reconciliations WHERE bank_account_id = ? AND status = ?`, bankAccountID, string(ReconciliationInProgress))
	rec, err := scanReconciliation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Touch bumps the version as part of a mutating operation. A zero rows-affected
// result means the caller lost the version race.
func (r *ReconciliationRepo) Touch(ctx context.Context, id string, version int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reconciliations SET version = version + 1 WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Complete transitions the session to completed under a version check.
func (r *ReconciliationRepo) Complete(ctx context.Context, id string, version int64, completedAt time.Time, completedBy string, forcedDifference *decimal.Decimal) error {
	var forced *string
	if forcedDifference != nil {
		v := forcedDifference.String()
		forced = &v
	}
	var by *string
	if completedBy != "" {
		by = &completedBy
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE reconciliations
	SET status = ?, completed_at = ?, completed_by = ?, forced_difference = ?, version = version + 1
	WHERE id = ? AND version = ? AND status = ?`,
		string(ReconciliationCompleted), completedAt, by, forced, id, version, string(ReconciliationInProgress))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func scanReconciliation(row scanner) (Reconciliation, error) {
	var rec Reconciliation
	var opening, closing, status string
	var forced, by sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.BankAccountID, &rec.StatementID, &rec.ReconciliationDate,
		&opening, &closing, &status, &forced, &rec.Version, &rec.CreatedAt, &completed, &by); err != nil {
		return Reconciliation{}, err
	}
	var err error
	if rec.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return Reconciliation{}, err
	}
	if rec.ClosingBalance, err = decimal.NewFromString(closing); err != nil {
		return Reconciliation{}, err
	}
	rec.Status = ReconciliationStatus(status)
	if forced.Valid {
		d, err := decimal.NewFromString(forced.String)
		if err != nil {
			return Reconciliation{}, err
		}
		rec.ForcedDifference = &d
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if by.Valid {
		rec.CompletedBy = &by.String
	}
	return rec, nil
}
