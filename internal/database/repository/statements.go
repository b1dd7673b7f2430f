package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jask/bankrec/internal/database"
)

// StatementRepo handles bank statements and their lines.
type StatementRepo struct{ db *sql.DB }

func NewStatementRepo(db *sql.DB) *StatementRepo { return &StatementRepo{db: db} }

// InsertWithLines stores a statement and its ordered lines in one transaction.
func (r *StatementRepo) InsertWithLines(ctx context.Context, s BankStatement, lines []StatementLine) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO bank_statements(
		 id, bank_account_id, period_start, period_end, opening_balance, closing_balance, balance_drift, imported_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, s.ID, s.BankAccountID, s.PeriodStart, s.PeriodEnd,
			s.OpeningBalance.String(), s.ClosingBalance.String(), s.BalanceDrift.String())
		if err != nil {
			return err
		}
		for _, l := range lines {
			var after *string
			if l.BalanceAfter != nil {
				v := l.BalanceAfter.String()
				after = &v
			}
			_, err = tx.ExecContext(ctx, `
			INSERT INTO statement_lines(
			 id, statement_id, bank_account_id, seq, posted_date, amount, raw_description,
			 normalized_description, check_number, balance_after, match_status, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
			`, l.ID, l.StatementID, l.BankAccountID, l.Seq, l.PostedDate, l.Amount.String(),
				l.RawDescription, l.NormalizedDescription, l.CheckNumber, after, string(StatusUnmatched))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *StatementRepo) Get(ctx context.Context, id string) (*BankStatement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, bank_account_id, period_start, period_end, opening_balance, closing_balance, balance_drift, imported_at FROM bank_statements WHERE id = ?`, id)
	s, err := scanStatement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Lines returns a statement's lines in import order, optionally filtered by status.
func (r *StatementRepo) Lines(ctx context.Context, statementID string, status MatchStatus) ([]StatementLine, error) {
	query := `SELECT id, statement_id, bank_account_id, seq, posted_date, amount, raw_description, normalized_description, check_number, balance_after, match_status, created_at FROM statement_lines WHERE statement_id = ?`
	args := []interface{}{statementID}
	if status != "" {
		query += ` AND match_status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatementLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *StatementRepo) GetLine(ctx context.Context, id string) (*StatementLine, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, statement_id, bank_account_id, seq, posted_date, amount, raw_description, normalized_description, check_number, balance_after, match_status, created_at FROM statement_lines WHERE id = ?`, id)
	l, err := scanLine(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Delete removes a statement, its lines, and any open reconciliation built on
// it, releasing the ledger transactions those matches held. It refuses when
// the statement appears in a completed reconciliation, to preserve the audit
// trail.
func (r *StatementRepo) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var n int
		row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reconciliations WHERE statement_id = ? AND status = ?`,
			id, string(ReconciliationCompleted))
		if err := row.Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("statement %s belongs to a completed reconciliation", id)
		}

		_, err := tx.ExecContext(ctx, `
		UPDATE ledger_transactions SET reconciled_match_id = NULL
		WHERE reconciled_match_id IN (
		 SELECT m.id FROM reconciliation_matches m
		 JOIN statement_lines l ON l.id = m.statement_line_id
		 WHERE l.statement_id = ?)`, id)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
		DELETE FROM reconciliation_matches
		WHERE statement_line_id IN (SELECT id FROM statement_lines WHERE statement_id = ?)`, id)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM reconciliations WHERE statement_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM bank_statements WHERE id = ?`, id)
		return err
	})
}

func scanStatement(row scanner) (BankStatement, error) {
	var s BankStatement
	var opening, closing, drift string
	if err := row.Scan(&s.ID, &s.BankAccountID, &s.PeriodStart, &s.PeriodEnd,
		&opening, &closing, &drift, &s.ImportedAt); err != nil {
		return BankStatement{}, err
	}
	var err error
	if s.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return BankStatement{}, err
	}
	if s.ClosingBalance, err = decimal.NewFromString(closing); err != nil {
		return BankStatement{}, err
	}
	if s.BalanceDrift, err = decimal.NewFromString(drift); err != nil {
		return BankStatement{}, err
	}
	return s, nil
}

func scanLine(row scanner) (StatementLine, error) {
	var l StatementLine
	var amount, status string
	var check, after sql.NullString
	if err := row.Scan(&l.ID, &l.StatementID, &l.BankAccountID, &l.Seq, &l.PostedDate,
		&amount, &l.RawDescription, &l.NormalizedDescription, &check, &after, &status, &l.CreatedAt); err != nil {
		return StatementLine{}, err
	}
	var err error
	if l.Amount, err = decimal.NewFromString(amount); err != nil {
		return StatementLine{}, err
	}
	if check.Valid {
		l.CheckNumber = &check.String
	}
	if after.Valid {
		d, err := decimal.NewFromString(after.String)
		if err != nil {
			return StatementLine{}, err
		}
		l.BalanceAfter = &d
	}
	l.MatchStatus = MatchStatus(status)
	return l, nil
}

// scanner handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}
