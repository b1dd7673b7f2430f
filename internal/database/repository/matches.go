package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jask/bankrec/internal/database"
)

// MatchRepo handles reconciliation matches. Status flips on the linked
// statement line and ledger transaction happen here and nowhere else, so the
// 1:1 matching invariant has a single choke point.
type MatchRepo struct{ db *sql.DB }

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// Create inserts an active match and flips both linked records to matched,
// atomically. The partial unique indexes on the active side surface a UNIQUE
// error when either record already carries an active match.
func (r *MatchRepo) Create(ctx context.Context, m ReconciliationMatch) error {
	return r.CreateBatch(ctx, []ReconciliationMatch{m})
}

// CreateBatch inserts several active matches in one transaction. All-or-nothing.
func (r *MatchRepo) CreateBatch(ctx context.Context, matches []ReconciliationMatch) error {
	if len(matches) == 0 {
		return nil
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, m := range matches {
			_, err := tx.ExecContext(ctx, `
			INSERT INTO reconciliation_matches(
			 id, reconciliation_id, statement_line_id, ledger_transaction_id, confidence, match_type, matched_at)
			VALUES(?, ?, ?, ?, ?, ?, ?);
			`, m.ID, m.ReconciliationID, m.StatementLineID, m.LedgerTransactionID,
				m.Confidence, string(m.MatchType), m.MatchedAt)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `UPDATE statement_lines SET match_status = ? WHERE id = ?`,
				string(StatusMatched), m.StatementLineID)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `UPDATE ledger_transactions SET reconciled_match_id = ? WHERE id = ?`,
				m.ID, m.LedgerTransactionID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Unmatch sets unmatched_at on the match and flips both linked records back
// to unmatched. The historical row is kept.
func (r *MatchRepo) Unmatch(ctx context.Context, matchID string, when time.Time) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var lineID, ledgerID string
		row := tx.QueryRowContext(ctx, `SELECT statement_line_id, ledger_transaction_id FROM reconciliation_matches WHERE id = ? AND unmatched_at IS NULL`, matchID)
		if err := row.Scan(&lineID, &ledgerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reconciliation_matches SET unmatched_at = ? WHERE id = ?`, when, matchID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE statement_lines SET match_status = ? WHERE id = ?`, string(StatusUnmatched), lineID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE ledger_transactions SET reconciled_match_id = NULL WHERE id = ?`, ledgerID)
		return err
	})
}

func (r *MatchRepo) Get(ctx context.Context, id string) (*ReconciliationMatch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, reconciliation_id, statement_line_id, ledger_transaction_id, confidence, match_type, matched_at, unmatched_at FROM reconciliation_matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ActiveByLine returns the line's active match, if any.
func (r *MatchRepo) ActiveByLine(ctx context.Context, statementLineID string) (*ReconciliationMatch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, reconciliation_id, statement_line_id, ledger_transaction_id, confidence, match_type, matched_at, unmatched_at FROM reconciliation_matches WHERE statement_line_id = ? AND unmatched_at IS NULL`, statementLineID)
	m, err := scanMatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ActiveForReconciliation lists a session's active matches, oldest first.
func (r *MatchRepo) ActiveForReconciliation(ctx context.Context, reconciliationID string) ([]ReconciliationMatch, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, reconciliation_id, statement_line_id, ledger_transaction_id, confidence, match_type, matched_at, unmatched_at FROM reconciliation_matches WHERE reconciliation_id = ? AND unmatched_at IS NULL ORDER BY matched_at ASC`, reconciliationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReconciliationMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMatch(row scanner) (ReconciliationMatch, error) {
	var m ReconciliationMatch
	var mtype string
	var unmatched sql.NullTime
	if err := row.Scan(&m.ID, &m.ReconciliationID, &m.StatementLineID, &m.LedgerTransactionID,
		&m.Confidence, &mtype, &m.MatchedAt, &unmatched); err != nil {
		return ReconciliationMatch{}, err
	}
	m.MatchType = MatchType(mtype)
	if unmatched.Valid {
		m.UnmatchedAt = &unmatched.Time
	}
	return m, nil
}
