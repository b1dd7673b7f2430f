package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/bankrec/internal/database/repository"
)

// RawStatementLine is what the external statement parser hands us per row.
type RawStatementLine struct {
	PostedDate   time.Time
	Amount       decimal.Decimal
	Description  string
	CheckNumber  string
	BalanceAfter *decimal.Decimal
}

// StatementImport describes one statement to persist.
type StatementImport struct {
	BankAccountID  string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	Lines          []RawStatementLine
}

// IngestService persists parsed statements and ledger rows.
type IngestService struct {
	Statements *repository.StatementRepo
	Ledger     *repository.LedgerRepo
}

// IngestResult accumulates per-line failures; a bad row never aborts the rest
// of the file.
type IngestResult struct {
	Imported int
	Errors   []error
}

// ImportStatement validates and stores a statement with its lines.
// Descriptions are normalized at write time. The opening+lines-vs-closing
// drift is computed and recorded, not enforced.
func (s *IngestService) ImportStatement(ctx context.Context, imp StatementImport) (*repository.BankStatement, error) {
	if strings.TrimSpace(imp.BankAccountID) == "" {
		return nil, newError(KindValidation, "", "bank account id is required")
	}
	if imp.PeriodStart.IsZero() || imp.PeriodEnd.IsZero() || imp.PeriodEnd.Before(imp.PeriodStart) {
		return nil, newError(KindValidation, imp.BankAccountID, "statement period is invalid")
	}

	stmt := repository.BankStatement{
		ID:             uuid.NewString(),
		BankAccountID:  imp.BankAccountID,
		PeriodStart:    imp.PeriodStart,
		PeriodEnd:      imp.PeriodEnd,
		OpeningBalance: imp.OpeningBalance,
		ClosingBalance: imp.ClosingBalance,
	}

	sum := decimal.Zero
	lines := make([]repository.StatementLine, 0, len(imp.Lines))
	for i, raw := range imp.Lines {
		if raw.PostedDate.IsZero() {
			return nil, newError(KindValidation, imp.BankAccountID, "line %d has no posted date", i+1)
		}
		sum = sum.Add(raw.Amount)
		l := repository.StatementLine{
			ID:                    uuid.NewString(),
			StatementID:           stmt.ID,
			BankAccountID:         imp.BankAccountID,
			Seq:                   i + 1,
			PostedDate:            raw.PostedDate,
			Amount:                raw.Amount,
			RawDescription:        raw.Description,
			NormalizedDescription: NormalizeDescription(raw.Description),
			BalanceAfter:          raw.BalanceAfter,
			MatchStatus:           repository.StatusUnmatched,
		}
		if c := strings.TrimSpace(raw.CheckNumber); c != "" {
			l.CheckNumber = &c
		}
		lines = append(lines, l)
	}
	stmt.BalanceDrift = imp.OpeningBalance.Add(sum).Sub(imp.ClosingBalance)

	if err := s.Statements.InsertWithLines(ctx, stmt, lines); err != nil {
		return nil, err
	}
	return s.Statements.Get(ctx, stmt.ID)
}

// StatementCSVParams describes a CSV statement file. Columns:
// date, amount, description[, check_number][, balance_after].
type StatementCSVParams struct {
	BankAccountID  string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	Location       *time.Location
}

// ImportStatementCSV parses a statement CSV and stores the good rows.
func (s *IngestService) ImportStatementCSV(ctx context.Context, r io.Reader, p StatementCSVParams) (*repository.BankStatement, IngestResult, error) {
	res := IngestResult{}
	imp := StatementImport{
		BankAccountID:  p.BankAccountID,
		PeriodStart:    p.PeriodStart,
		PeriodEnd:      p.PeriodEnd,
		OpeningBalance: p.OpeningBalance,
		ClosingBalance: p.ClosingBalance,
	}

	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 3 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected at least 3 columns (date, amount, description)", line))
			continue
		}
		date, err := parseLocalDate(rec[0], p.Location)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amount, err := parseAmount(rec[1])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		raw := RawStatementLine{PostedDate: date, Amount: amount, Description: strings.TrimSpace(rec[2])}
		if len(rec) > 3 {
			raw.CheckNumber = strings.TrimSpace(rec[3])
		}
		if len(rec) > 4 && strings.TrimSpace(rec[4]) != "" {
			after, err := parseAmount(rec[4])
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("line %d balance_after: %w", line, err))
				continue
			}
			raw.BalanceAfter = &after
		}
		imp.Lines = append(imp.Lines, raw)
		res.Imported++
	}

	stmt, err := s.ImportStatement(ctx, imp)
	if err != nil {
		return nil, res, err
	}
	return stmt, res, nil
}

// ImportLedgerCSV ingests ledger rows: date, amount, description.
func (s *IngestService) ImportLedgerCSV(ctx context.Context, r io.Reader, bankAccountID string, loc *time.Location) (IngestResult, error) {
	if strings.TrimSpace(bankAccountID) == "" {
		return IngestResult{}, newError(KindValidation, "", "bank account id is required")
	}
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 3 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected 3 columns (date, amount, description)", line))
			continue
		}
		date, err := parseLocalDate(rec[0], loc)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amount, err := parseAmount(rec[1])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		t := repository.LedgerTransaction{
			ID:            uuid.NewString(),
			BankAccountID: bankAccountID,
			Date:          date,
			Amount:        amount,
			Description:   strings.TrimSpace(rec[2]),
		}
		if err := s.Ledger.Insert(ctx, t); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
			continue
		}
		res.Imported++
	}
	return res, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
