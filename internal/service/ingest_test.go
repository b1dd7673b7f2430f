package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/bankrec/internal/database/repository"
)

func TestImportStatementCSV(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	data := strings.Join([]string{
		"2024-01-02,-54.20,UBER EATS* SUSHI HOUSE",
		"2024-01-05,\"-1,200.00\",RENT JANUARY,,801.30",
		"2024-01-09,-15.99,SPOTIFY P21E84",
		"2024-01-14,2500.00,SALARY ACME PTY LTD",
		"2024-01-20,-89.90,CHEQUE 000123,000123",
	}, "\n")

	stmt, res, err := env.ingest.ImportStatementCSV(ctx, strings.NewReader(data), StatementCSVParams{
		BankAccountID:  "acct-1",
		PeriodStart:    day("2024-01-01"),
		PeriodEnd:      day("2024-01-31"),
		OpeningBalance: decimal.RequireFromString("1000.00"),
		ClosingBalance: decimal.RequireFromString("2139.91"),
	})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 5, res.Imported)
	require.True(t, stmt.BalanceDrift.IsZero(), "drift %s", stmt.BalanceDrift)

	lines, err := env.statements.Lines(ctx, stmt.ID, "")
	require.NoError(t, err)
	require.Len(t, lines, 5)

	// import order preserved, descriptions normalized at write time
	require.Equal(t, 1, lines[0].Seq)
	require.Equal(t, "UBER EATS* SUSHI HOUSE", lines[0].RawDescription)
	require.Equal(t, "uber eats sushi house", lines[0].NormalizedDescription)
	require.Equal(t, repository.StatusUnmatched, lines[0].MatchStatus)

	require.NotNil(t, lines[1].BalanceAfter)
	require.True(t, lines[1].BalanceAfter.Equal(decimal.RequireFromString("801.30")))
	require.True(t, lines[1].Amount.Equal(decimal.RequireFromString("-1200.00")))

	require.NotNil(t, lines[4].CheckNumber)
	require.Equal(t, "000123", *lines[4].CheckNumber)
}

func TestImportStatementCSVAccumulatesRowErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	data := strings.Join([]string{
		"2024-01-02,-54.20,GOOD ROW",
		"not-a-date,-1.00,BAD DATE",
		"2024-01-05,not-an-amount,BAD AMOUNT",
		"2024-01-09,-15.99,ANOTHER GOOD ROW",
	}, "\n")

	stmt, res, err := env.ingest.ImportStatementCSV(ctx, strings.NewReader(data), StatementCSVParams{
		BankAccountID:  "acct-1",
		PeriodStart:    day("2024-01-01"),
		PeriodEnd:      day("2024-01-31"),
		OpeningBalance: decimal.RequireFromString("100.00"),
		ClosingBalance: decimal.RequireFromString("29.81"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Imported)
	require.Len(t, res.Errors, 2)

	lines, err := env.statements.Lines(ctx, stmt.ID, "")
	require.NoError(t, err)
	require.Len(t, lines, 2)
}

func TestImportStatementRecordsDrift(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// closing disagrees with opening+lines by 0.10; reported, not rejected
	stmt, err := env.ingest.ImportStatement(context.Background(), StatementImport{
		BankAccountID:  "acct-1",
		PeriodStart:    day("2024-01-01"),
		PeriodEnd:      day("2024-01-31"),
		OpeningBalance: decimal.RequireFromString("100.00"),
		ClosingBalance: decimal.RequireFromString("149.90"),
		Lines:          []RawStatementLine{rawLine("2024-01-10", "50.00", "DEPOSIT")},
	})
	require.NoError(t, err)
	require.True(t, stmt.BalanceDrift.Equal(decimal.RequireFromString("0.10")))
}

func TestImportStatementValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ingest.ImportStatement(ctx, StatementImport{
		PeriodStart: day("2024-01-01"),
		PeriodEnd:   day("2024-01-31"),
	})
	require.True(t, IsKind(err, KindValidation), "got %v", err)

	_, err = env.ingest.ImportStatement(ctx, StatementImport{
		BankAccountID: "acct-1",
		PeriodStart:   day("2024-01-31"),
		PeriodEnd:     day("2024-01-01"),
	})
	require.True(t, IsKind(err, KindValidation), "got %v", err)
}

func TestImportLedgerCSV(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	data := strings.Join([]string{
		"2024-01-03,-54.20,Uber Eats sushi house",
		"2024-01-14,2500.00,Acme salary",
	}, "\n")

	res, err := env.ingest.ImportLedgerCSV(ctx, strings.NewReader(data), "acct-1", nil)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.Imported)

	txs, err := env.ledger.GetTransactions(ctx, "acct-1", day("2024-01-01"), day("2024-01-31"), true)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.True(t, txs[0].Amount.Equal(decimal.RequireFromString("-54.20")))
	require.Nil(t, txs[0].ReconciledMatchID)
}
