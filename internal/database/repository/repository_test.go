package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankrec/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	migrations, err := filepath.Abs("../migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrationsWithDB(db, migrations))
	return db
}

func seedPair(t *testing.T, db *sql.DB, account string) (BankStatement, StatementLine, LedgerTransaction) {
	t.Helper()
	ctx := context.Background()

	stmt := BankStatement{
		ID:             uuid.NewString(),
		BankAccountID:  account,
		PeriodStart:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		OpeningBalance: decimal.RequireFromString("100.00"),
		ClosingBalance: decimal.RequireFromString("80.00"),
		BalanceDrift:   decimal.Zero,
	}
	l := StatementLine{
		ID:                    uuid.NewString(),
		StatementID:           stmt.ID,
		BankAccountID:         account,
		Seq:                   1,
		PostedDate:            time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Amount:                decimal.RequireFromString("-20.00"),
		RawDescription:        "COFFEE",
		NormalizedDescription: "coffee",
		MatchStatus:           StatusUnmatched,
	}
	require.NoError(t, NewStatementRepo(db).InsertWithLines(ctx, stmt, []StatementLine{l}))

	tx := LedgerTransaction{
		ID:            uuid.NewString(),
		BankAccountID: account,
		Date:          time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("-20.00"),
		Description:   "Coffee",
	}
	require.NoError(t, NewLedgerRepo(db).Insert(ctx, tx))
	return stmt, l, tx
}

func TestActiveMatchUniqueness(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	matches := NewMatchRepo(db)

	stmt, l, tx := seedPair(t, db, "acct-1")
	recs := NewReconciliationRepo(db)
	rec := Reconciliation{
		ID:                 uuid.NewString(),
		BankAccountID:      "acct-1",
		StatementID:        stmt.ID,
		ReconciliationDate: database.Now(),
		OpeningBalance:     stmt.OpeningBalance,
		ClosingBalance:     stmt.ClosingBalance,
		Status:             ReconciliationInProgress,
	}
	require.NoError(t, recs.Insert(ctx, rec))

	m := ReconciliationMatch{
		ID:                  uuid.NewString(),
		ReconciliationID:    rec.ID,
		StatementLineID:     l.ID,
		LedgerTransactionID: tx.ID,
		Confidence:          1.0,
		MatchType:           MatchManual,
		MatchedAt:           database.Now(),
	}
	require.NoError(t, matches.Create(ctx, m))

	// second active match on either side violates the partial unique index
	dup := m
	dup.ID = uuid.NewString()
	err := matches.Create(ctx, dup)
	require.Error(t, err)
	require.Contains(t, err.Error(), "UNIQUE")

	// after unmatch, the same pair can be matched again
	require.NoError(t, matches.Unmatch(ctx, m.ID, database.Now()))
	dup.ID = uuid.NewString()
	require.NoError(t, matches.Create(ctx, dup))

	// history survives
	old, err := matches.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, old.UnmatchedAt)
}

func TestOneOpenReconciliationPerAccount(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	recs := NewReconciliationRepo(db)

	stmt, _, _ := seedPair(t, db, "acct-1")
	base := Reconciliation{
		BankAccountID:      "acct-1",
		StatementID:        stmt.ID,
		ReconciliationDate: database.Now(),
		OpeningBalance:     stmt.OpeningBalance,
		ClosingBalance:     stmt.ClosingBalance,
		Status:             ReconciliationInProgress,
	}
	first := base
	first.ID = uuid.NewString()
	require.NoError(t, recs.Insert(ctx, first))

	second := base
	second.ID = uuid.NewString()
	err := recs.Insert(ctx, second)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "UNIQUE"))

	open, err := recs.OpenForAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, open.ID)
}

func TestTouchVersionConflict(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	recs := NewReconciliationRepo(db)

	stmt, _, _ := seedPair(t, db, "acct-1")
	rec := Reconciliation{
		ID:                 uuid.NewString(),
		BankAccountID:      "acct-1",
		StatementID:        stmt.ID,
		ReconciliationDate: database.Now(),
		OpeningBalance:     stmt.OpeningBalance,
		ClosingBalance:     stmt.ClosingBalance,
		Status:             ReconciliationInProgress,
	}
	require.NoError(t, recs.Insert(ctx, rec))

	require.NoError(t, recs.Touch(ctx, rec.ID, 1))
	require.ErrorIs(t, recs.Touch(ctx, rec.ID, 1), ErrVersionConflict)
	require.NoError(t, recs.Touch(ctx, rec.ID, 2))
}

func TestStatementDeleteGuard(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	statements := NewStatementRepo(db)
	recs := NewReconciliationRepo(db)
	matches := NewMatchRepo(db)

	stmt, l, tx := seedPair(t, db, "acct-1")
	rec := Reconciliation{
		ID:                 uuid.NewString(),
		BankAccountID:      "acct-1",
		StatementID:        stmt.ID,
		ReconciliationDate: database.Now(),
		OpeningBalance:     stmt.OpeningBalance,
		ClosingBalance:     stmt.ClosingBalance,
		Status:             ReconciliationInProgress,
	}
	require.NoError(t, recs.Insert(ctx, rec))
	require.NoError(t, matches.Create(ctx, ReconciliationMatch{
		ID:                  uuid.NewString(),
		ReconciliationID:    rec.ID,
		StatementLineID:     l.ID,
		LedgerTransactionID: tx.ID,
		Confidence:          1.0,
		MatchType:           MatchManual,
		MatchedAt:           database.Now(),
	}))

	// in-progress match history does not block deletion
	require.NoError(t, statements.Delete(ctx, stmt.ID))

	// rebuild and complete: now the history must be preserved
	stmt2, l2, tx2 := seedPair(t, db, "acct-2")
	rec2 := rec
	rec2.ID = uuid.NewString()
	rec2.BankAccountID = "acct-2"
	rec2.StatementID = stmt2.ID
	require.NoError(t, recs.Insert(ctx, rec2))
	require.NoError(t, matches.Create(ctx, ReconciliationMatch{
		ID:                  uuid.NewString(),
		ReconciliationID:    rec2.ID,
		StatementLineID:     l2.ID,
		LedgerTransactionID: tx2.ID,
		Confidence:          1.0,
		MatchType:           MatchManual,
		MatchedAt:           database.Now(),
	}))
	require.NoError(t, recs.Complete(ctx, rec2.ID, 1, database.Now(), "jask", nil))

	err := statements.Delete(ctx, stmt2.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "completed reconciliation")

	got, err := statements.Get(ctx, stmt2.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
