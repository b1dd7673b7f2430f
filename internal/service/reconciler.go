package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/bankrec/internal/database"
	"github.com/jask/bankrec/internal/database/repository"
)

// Reconciler owns the lifecycle of reconciliation sessions: creation,
// auto-match orchestration, manual match/unmatch, completion and summaries.
// Mutating operations on one session are serialized by a per-session lock;
// a version column on the row catches races across processes.
type Reconciler struct {
	Statements      *repository.StatementRepo
	Ledger          *repository.LedgerRepo
	Reconciliations *repository.ReconciliationRepo
	Matches         *repository.MatchRepo

	Matching MatcherConfig
	// CompletionTolerance is the largest absolute balance difference that
	// still allows Complete without force. Defaults to zero.
	CompletionTolerance decimal.Decimal

	Log zerolog.Logger

	locks sync.Map // reconciliation id -> *sync.Mutex
}

func (r *Reconciler) lock(id string) func() {
	v, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateParams describes a new reconciliation session. Balances are copied
// from the statement.
type CreateParams struct {
	BankAccountID      string
	StatementID        string
	ReconciliationDate time.Time
}

// Create starts an in-progress reconciliation for an account and statement.
// At most one open session per account is allowed.
func (r *Reconciler) Create(ctx context.Context, p CreateParams) (*repository.Reconciliation, error) {
	if p.BankAccountID == "" || p.StatementID == "" {
		return nil, newError(KindValidation, "", "bank account id and statement id are required")
	}
	stmt, err := r.Statements.Get(ctx, p.StatementID)
	if err != nil {
		return nil, err
	}
	if stmt == nil || stmt.BankAccountID != p.BankAccountID {
		return nil, newError(KindNotFound, p.StatementID, "statement not found for account %s", p.BankAccountID)
	}
	if open, err := r.Reconciliations.OpenForAccount(ctx, p.BankAccountID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, newError(KindInvalidState, open.ID, "account %s already has an open reconciliation", p.BankAccountID)
	}

	date := p.ReconciliationDate
	if date.IsZero() {
		date = database.Now()
	}
	rec := repository.Reconciliation{
		ID:                 uuid.NewString(),
		BankAccountID:      p.BankAccountID,
		StatementID:        p.StatementID,
		ReconciliationDate: date,
		OpeningBalance:     stmt.OpeningBalance,
		ClosingBalance:     stmt.ClosingBalance,
		Status:             repository.ReconciliationInProgress,
		Version:            1,
	}
	if err := r.Reconciliations.Insert(ctx, rec); err != nil {
		// the partial unique index backs the one-open-session rule
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, newError(KindInvalidState, p.BankAccountID, "account already has an open reconciliation")
		}
		return nil, err
	}
	r.Log.Info().Str("reconciliation_id", rec.ID).Str("account_id", p.BankAccountID).Msg("reconciliation created")
	return r.Reconciliations.Get(ctx, rec.ID)
}

// AutoMatchResult reports what one AutoMatch pass did.
type AutoMatchResult struct {
	Reconciliation *repository.Reconciliation
	NewlyMatched   int
	StillUnmatched int
	// Truncated means the candidate budget or deadline cut the pass short;
	// the matches reported here are persisted and a retry will pick up the
	// remaining lines.
	Truncated bool
}

// AutoMatch runs the matcher over the session's unmatched lines and persists
// every accepted pairing as an auto match. Idempotent: a second run without
// intervening changes finds nothing left to match.
func (r *Reconciler) AutoMatch(ctx context.Context, reconciliationID string) (*AutoMatchResult, error) {
	unlock := r.lock(reconciliationID)
	defer unlock()

	rec, err := r.loadOpen(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	if err := r.touch(ctx, rec); err != nil {
		return nil, err
	}

	lines, txs, err := r.matchInputs(ctx, rec)
	if err != nil {
		return nil, err
	}
	outcome := MatchLines(ctx, lines, txs, r.Matching)

	now := database.Now()
	matches := make([]repository.ReconciliationMatch, 0, len(outcome.Accepted))
	for _, c := range outcome.Accepted {
		matches = append(matches, repository.ReconciliationMatch{
			ID:                  uuid.NewString(),
			ReconciliationID:    rec.ID,
			StatementLineID:     c.StatementLineID,
			LedgerTransactionID: c.LedgerTransactionID,
			Confidence:          c.Confidence,
			MatchType:           repository.MatchAuto,
			MatchedAt:           now,
		})
	}
	if err := r.Matches.CreateBatch(ctx, matches); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, newError(KindConcurrencyConflict, rec.ID, "a candidate was matched concurrently")
		}
		return nil, err
	}

	updated, err := r.Reconciliations.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	res := &AutoMatchResult{
		Reconciliation: updated,
		NewlyMatched:   len(matches),
		StillUnmatched: len(lines) - len(matches),
		Truncated:      outcome.Truncated,
	}
	r.Log.Info().
		Str("reconciliation_id", rec.ID).
		Int("matched", res.NewlyMatched).
		Int("unmatched", res.StillUnmatched).
		Bool("truncated", res.Truncated).
		Msg("auto-match pass finished")
	return res, nil
}

// ManualMatch links one statement line to one ledger transaction at full
// confidence.
func (r *Reconciler) ManualMatch(ctx context.Context, reconciliationID, statementLineID, ledgerTransactionID string) (*repository.ReconciliationMatch, error) {
	unlock := r.lock(reconciliationID)
	defer unlock()

	rec, err := r.loadOpen(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}

	line, err := r.Statements.GetLine(ctx, statementLineID)
	if err != nil {
		return nil, err
	}
	if line == nil || line.BankAccountID != rec.BankAccountID || line.StatementID != rec.StatementID {
		return nil, newError(KindNotFound, statementLineID, "statement line not found for reconciliation %s", rec.ID)
	}
	if line.MatchStatus == repository.StatusMatched {
		return nil, newError(KindAlreadyMatched, statementLineID, "statement line already has an active match")
	}

	tx, err := r.Ledger.Get(ctx, ledgerTransactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.BankAccountID != rec.BankAccountID {
		return nil, newError(KindNotFound, ledgerTransactionID, "ledger transaction not found for account %s", rec.BankAccountID)
	}
	if tx.ReconciledMatchID != nil {
		return nil, newError(KindAlreadyMatched, ledgerTransactionID, "ledger transaction already has an active match")
	}

	if err := r.touch(ctx, rec); err != nil {
		return nil, err
	}
	m := repository.ReconciliationMatch{
		ID:                  uuid.NewString(),
		ReconciliationID:    rec.ID,
		StatementLineID:     statementLineID,
		LedgerTransactionID: ledgerTransactionID,
		Confidence:          1.0, // manual matches are always full confidence
		MatchType:           repository.MatchManual,
		MatchedAt:           database.Now(),
	}
	if err := r.Matches.Create(ctx, m); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, newError(KindAlreadyMatched, statementLineID, "record was matched concurrently")
		}
		return nil, err
	}
	return r.Matches.Get(ctx, m.ID)
}

// Unmatch reverses a match, addressed either by its id or by the statement
// line it covers. The match row is kept as history.
func (r *Reconciler) Unmatch(ctx context.Context, reconciliationID, matchOrLineID string) error {
	unlock := r.lock(reconciliationID)
	defer unlock()

	rec, err := r.loadOpen(ctx, reconciliationID)
	if err != nil {
		return err
	}

	m, err := r.Matches.Get(ctx, matchOrLineID)
	if err != nil {
		return err
	}
	if m == nil || m.UnmatchedAt != nil {
		m, err = r.Matches.ActiveByLine(ctx, matchOrLineID)
		if err != nil {
			return err
		}
	}
	if m == nil || m.UnmatchedAt != nil {
		return newError(KindNotFound, matchOrLineID, "no active match found")
	}
	if m.ReconciliationID != rec.ID {
		return newError(KindNotFound, matchOrLineID, "match belongs to a different reconciliation")
	}
	if err := r.touch(ctx, rec); err != nil {
		return err
	}
	return r.Matches.Unmatch(ctx, m.ID, database.Now())
}

// Complete finalizes the session when the balance difference is within
// tolerance, or unconditionally with force (the residual is recorded for
// audit). Completing an already-completed session is a no-op.
func (r *Reconciler) Complete(ctx context.Context, reconciliationID string, force bool, completedBy string) (*repository.Reconciliation, error) {
	unlock := r.lock(reconciliationID)
	defer unlock()

	rec, err := r.Reconciliations.Get(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError(KindNotFound, reconciliationID, "reconciliation not found")
	}
	if rec.Status == repository.ReconciliationCompleted {
		return rec, nil
	}

	diff, err := r.balanceDifference(ctx, rec)
	if err != nil {
		return nil, err
	}
	var forced *decimal.Decimal
	if diff.Abs().GreaterThan(r.CompletionTolerance) {
		if !force {
			return nil, newError(KindUnbalanced, rec.ID, "balance difference %s exceeds tolerance %s", diff, r.CompletionTolerance)
		}
		forced = &diff
	}
	if err := r.Reconciliations.Complete(ctx, rec.ID, rec.Version, database.Now(), completedBy, forced); err != nil {
		if err == repository.ErrVersionConflict {
			return nil, newError(KindConcurrencyConflict, rec.ID, "reconciliation changed concurrently")
		}
		return nil, err
	}
	r.Log.Info().Str("reconciliation_id", rec.ID).Str("balance_difference", diff.String()).Bool("forced", forced != nil).Msg("reconciliation completed")
	return r.Reconciliations.Get(ctx, rec.ID)
}

// Suggestions returns the matcher's ranked suggestion list for the current
// unmatched subset without persisting anything.
func (r *Reconciler) Suggestions(ctx context.Context, reconciliationID string) ([]CandidateMatch, error) {
	rec, err := r.Reconciliations.Get(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError(KindNotFound, reconciliationID, "reconciliation not found")
	}
	lines, txs, err := r.matchInputs(ctx, rec)
	if err != nil {
		return nil, err
	}
	outcome := MatchLines(ctx, lines, txs, r.Matching)
	// auto-grade pairs are surfaced as leading suggestions here: this is a
	// read, nothing is persisted until AutoMatch or ManualMatch runs
	return append(outcome.Accepted, outcome.Suggestions...), nil
}

// Summary is a derived read of where the session stands.
type Summary struct {
	TotalLines        int
	MatchedLines      int
	UnmatchedLines    int
	BalanceDifference decimal.Decimal
	CanComplete       bool
}

// Summarize computes counts and the completion gate for a session.
func (r *Reconciler) Summarize(ctx context.Context, reconciliationID string) (*Summary, error) {
	rec, err := r.Reconciliations.Get(ctx, reconciliationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError(KindNotFound, reconciliationID, "reconciliation not found")
	}
	lines, err := r.Statements.Lines(ctx, rec.StatementID, "")
	if err != nil {
		return nil, err
	}
	s := &Summary{TotalLines: len(lines)}
	matched := decimal.Zero
	for _, l := range lines {
		if l.MatchStatus == repository.StatusMatched {
			s.MatchedLines++
			matched = matched.Add(l.Amount)
		} else {
			s.UnmatchedLines++
		}
	}
	s.BalanceDifference = rec.ClosingBalance.Sub(rec.OpeningBalance.Add(matched))
	s.CanComplete = s.BalanceDifference.Abs().LessThanOrEqual(r.CompletionTolerance)
	return s, nil
}

func (r *Reconciler) loadOpen(ctx context.Context, id string) (*repository.Reconciliation, error) {
	rec, err := r.Reconciliations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newError(KindNotFound, id, "reconciliation not found")
	}
	if rec.Status != repository.ReconciliationInProgress {
		return nil, newError(KindInvalidState, id, "reconciliation is %s", rec.Status)
	}
	return rec, nil
}

func (r *Reconciler) touch(ctx context.Context, rec *repository.Reconciliation) error {
	if err := r.Reconciliations.Touch(ctx, rec.ID, rec.Version); err != nil {
		if err == repository.ErrVersionConflict {
			return newError(KindConcurrencyConflict, rec.ID, "reconciliation changed concurrently")
		}
		return err
	}
	rec.Version++
	return nil
}

// matchInputs loads the unmatched lines plus the eligible ledger candidates
// for a session: same account, dated within the statement period widened by
// the matching window, not already linked to an active match.
func (r *Reconciler) matchInputs(ctx context.Context, rec *repository.Reconciliation) ([]repository.StatementLine, []repository.LedgerTransaction, error) {
	stmt, err := r.Statements.Get(ctx, rec.StatementID)
	if err != nil {
		return nil, nil, err
	}
	if stmt == nil {
		return nil, nil, newError(KindNotFound, rec.StatementID, "statement not found")
	}
	lines, err := r.Statements.Lines(ctx, rec.StatementID, repository.StatusUnmatched)
	if err != nil {
		return nil, nil, err
	}
	window := time.Duration(r.Matching.WindowDays) * 24 * time.Hour
	txs, err := r.Ledger.GetTransactions(ctx, rec.BankAccountID,
		stmt.PeriodStart.Add(-window), stmt.PeriodEnd.Add(window), true)
	if err != nil {
		return nil, nil, err
	}
	return lines, txs, nil
}

func (r *Reconciler) balanceDifference(ctx context.Context, rec *repository.Reconciliation) (decimal.Decimal, error) {
	lines, err := r.Statements.Lines(ctx, rec.StatementID, repository.StatusMatched)
	if err != nil {
		return decimal.Zero, err
	}
	matched := decimal.Zero
	for _, l := range lines {
		matched = matched.Add(l.Amount)
	}
	return rec.ClosingBalance.Sub(rec.OpeningBalance.Add(matched)), nil
}
