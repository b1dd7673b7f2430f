package testdata

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/bankrec/internal/database/repository"
	"github.com/jask/bankrec/internal/service"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Statements *repository.StatementRepo
	Ledger     *repository.LedgerRepo
}

// Fixture is a deterministic statement/ledger pair for demos and tests.
// Ledger rows mirror the statement lines with small date offsets so an
// auto-match pass finds them, plus one extra ledger row that never matches.
type Fixture struct {
	BankAccountID string
	Statement     repository.BankStatement
	Lines         []repository.StatementLine
	Ledger        []repository.LedgerTransaction
}

var sampleRows = []struct {
	day    int
	amount string
	desc   string
	ledger string
	offset int
}{
	{2, "-54.20", "UBER EATS* SUSHI HOUSE", "Uber Eats sushi house", 0},
	{5, "-120.00", "WOOLWORTHS 1234 METRO", "Woolworths groceries", 1},
	{9, "-15.99", "SPOTIFY P21E84", "Spotify subscription", 0},
	{14, "2500.00", "SALARY ACME PTY LTD", "Acme salary", -1},
	{20, "-89.90", "AMAZON.COM*XY12Z", "Amazon order", 2},
	{26, "-42.00", "SHELL COBURG 0482", "Shell petrol", 0},
}

// Build returns the fixture without persisting it.
func Build(bankAccountID string, periodStart time.Time) Fixture {
	if bankAccountID == "" {
		bankAccountID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct:sample")).String()
	}
	start := time.Date(periodStart.Year(), periodStart.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-24 * time.Hour)

	opening := decimal.RequireFromString("1000.00")
	sum := decimal.Zero

	f := Fixture{BankAccountID: bankAccountID}
	stmtID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("stmt:"+bankAccountID+start.Format("2006-01"))).String()
	for i, row := range sampleRows {
		amount := decimal.RequireFromString(row.amount)
		sum = sum.Add(amount)
		f.Lines = append(f.Lines, repository.StatementLine{
			ID:                    uuid.NewSHA1(uuid.NameSpaceOID, []byte(stmtID+row.desc)).String(),
			StatementID:           stmtID,
			BankAccountID:         bankAccountID,
			Seq:                   i + 1,
			PostedDate:            start.AddDate(0, 0, row.day-1),
			Amount:                amount,
			RawDescription:        row.desc,
			NormalizedDescription: service.NormalizeDescription(row.desc),
			MatchStatus:           repository.StatusUnmatched,
		})
		f.Ledger = append(f.Ledger, repository.LedgerTransaction{
			ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte("ledger:"+stmtID+row.ledger)).String(),
			BankAccountID: bankAccountID,
			Date:          start.AddDate(0, 0, row.day-1+row.offset),
			Amount:        amount,
			Description:   row.ledger,
		})
	}
	// a ledger row with no statement counterpart
	f.Ledger = append(f.Ledger, repository.LedgerTransaction{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte("ledger:"+stmtID+"orphan")).String(),
		BankAccountID: bankAccountID,
		Date:          start.AddDate(0, 0, 11),
		Amount:        decimal.RequireFromString("-7.50"),
		Description:   "Coffee",
	})

	f.Statement = repository.BankStatement{
		ID:             stmtID,
		BankAccountID:  bankAccountID,
		PeriodStart:    start,
		PeriodEnd:      end,
		OpeningBalance: opening,
		ClosingBalance: opening.Add(sum),
		BalanceDrift:   decimal.Zero,
	}
	return f
}

// Seed persists the fixture.
func Seed(ctx context.Context, repos Repos, f Fixture) error {
	if err := repos.Statements.InsertWithLines(ctx, f.Statement, f.Lines); err != nil {
		return err
	}
	for _, t := range f.Ledger {
		if err := repos.Ledger.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
